// Package jobs provides the in-memory job registry, the bounded admission
// gates and the terminal-state audit writer shared by the upload and report
// pipelines. Registries are in-memory only: a process restart loses them and
// only flushed audit files survive. That is an accepted limitation.
package jobs

import (
	"errors"
	"sync"
	"time"
)

// ErrJobNotFound is returned when a job id is unknown to the registry.
var ErrJobNotFound = errors.New("任务不存在")

// Status is the job lifecycle state. Transitions run strictly
// queued -> processing -> done|error.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// FileResult is the per-file outcome appended to a job as its worker
// advances. Either the counters or Error is populated, never both.
type FileResult struct {
	Filename      string     `json:"filename"`
	ParsedCount   int        `json:"parsed_count"`
	InsertedCount int        `json:"inserted_count"`
	MinTime       *time.Time `json:"min_time,omitempty"`
	MaxTime       *time.Time `json:"max_time,omitempty"`
	DistinctDays  int        `json:"distinct_days,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Job is the polled state of one asynchronous unit of work. It is mutated
// only by its worker; clients observe progress by polling a snapshot.
type Job struct {
	ID              string       `json:"id"`
	SuspectID       uint         `json:"suspect_id"`
	Status          Status       `json:"status"`
	Stage           string       `json:"stage,omitempty"`
	TotalFiles      int          `json:"total_files"`
	CurrentFile     int          `json:"current_file_index"`
	CurrentFilename string       `json:"current_filename"`
	Results         []FileResult `json:"results"`
	Detail          string       `json:"detail,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Terminal reports whether the job reached done or error.
func (j Job) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusError
}

// Store is a mutex-guarded job registry. One registry - one mutex; every
// read and write goes through it.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{jobs: make(map[string]Job)}
}

// Get returns a snapshot of a job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Put stores a job snapshot, stamping UpdatedAt.
func (s *Store) Put(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.UpdatedAt = time.Now()
	s.jobs[j.ID] = j
}

// Patch applies fn to the stored job under the registry lock and stamps
// UpdatedAt. It reports whether the job existed.
func (s *Store) Patch(id string, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(&j)
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return true
}

// Len returns the number of registered jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// CountByStatus returns how many jobs currently hold the given status.
func (s *Store) CountByStatus(status Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}
