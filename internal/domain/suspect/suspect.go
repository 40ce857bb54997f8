// Package suspect manages the people whose bill exports are being analyzed.
package suspect

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"gorm.io/gorm"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
)

var (
	// ErrNotFound is returned when no suspect matches the given id or name.
	ErrNotFound = errors.New("嫌疑人不存在")
	// ErrNameTaken is returned when creating a suspect whose name already exists.
	ErrNameTaken = errors.New("该姓名已存在")
	// ErrBadPassword is returned when verification fails.
	ErrBadPassword = errors.New("查询密码错误")
	// ErrWeakPassword is returned when the query password is too short.
	ErrWeakPassword = errors.New("查询密码至少需要3位")
)

const minPasswordLen = 3

// Suspect 嫌疑人档案，每个嫌疑人名下挂账单流水和分析报告
type Suspect struct {
	ID                uint   `gorm:"primaryKey" json:"id"`
	Name              string `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Password          string `gorm:"size:64;not null" json:"-"`
	AIAnalysis        string `gorm:"type:text" json:"-"`
	AnalysisSignature string `gorm:"size:64" json:"-"`
	ReportRoot        string `gorm:"size:512" json:"-"`
	ReportMain        string `gorm:"size:512" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Summary is the listing row returned to clients.
type Summary struct {
	ID         uint       `json:"id"`
	Name       string     `json:"name"`
	FileCount  int64      `json:"file_count"`
	LastUpdate *time.Time `json:"last_update"`
	HasReport  bool       `json:"has_report"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Service wraps suspect persistence.
type Service struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewService creates a suspect service.
func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create registers a new suspect with a per-suspect query password.
func (s *Service) Create(name, password string) (*Suspect, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("姓名不能为空")
	}
	if len([]rune(password)) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	var count int64
	if err := s.db.Model(&Suspect{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check name: %w", err)
	}
	if count > 0 {
		return nil, ErrNameTaken
	}

	sp := &Suspect{Name: name, Password: password}
	if err := s.db.Create(sp).Error; err != nil {
		return nil, fmt.Errorf("create suspect: %w", err)
	}
	s.logger.Info("suspect created", slog.Uint64("id", uint64(sp.ID)), slog.String("name", name))
	return sp, nil
}

// Get returns a suspect by id.
func (s *Service) Get(id uint) (*Suspect, error) {
	var sp Suspect
	if err := s.db.First(&sp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sp, nil
}

// GetByName returns a suspect by exact name.
func (s *Service) GetByName(name string) (*Suspect, error) {
	var sp Suspect
	if err := s.db.Where("name = ?", strings.TrimSpace(name)).First(&sp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sp, nil
}

// Verify checks the per-suspect query password.
func (s *Service) Verify(id uint, password string) error {
	sp, err := s.Get(id)
	if err != nil {
		return err
	}
	if sp.Password != password {
		return ErrBadPassword
	}
	return nil
}

// List returns all suspects with their file counts and last activity,
// newest activity first.
func (s *Service) List() ([]Summary, error) {
	var suspects []Suspect
	if err := s.db.Order("created_at DESC").Find(&suspects).Error; err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(suspects))
	for _, sp := range suspects {
		var fileCount int64
		if err := s.db.Table("transactions").
			Where("suspect_id = ?", sp.ID).
			Distinct("source_file").
			Count(&fileCount).Error; err != nil {
			return nil, err
		}

		// MAX() strips the column's declared type, so the driver returns
		// the stored text; parse it back instead of scanning a time.Time.
		var last struct{ Last sql.NullString }
		if err := s.db.Table("transactions").
			Select("MAX(created_at) AS last").
			Where("suspect_id = ?", sp.ID).
			Scan(&last).Error; err != nil {
			return nil, err
		}
		var lastUpdate *time.Time
		if last.Last.Valid {
			lastUpdate = repository.RowTime(last.Last.String)
		}

		out = append(out, Summary{
			ID:         sp.ID,
			Name:       sp.Name,
			FileCount:  fileCount,
			LastUpdate: lastUpdate,
			HasReport:  sp.ReportRoot != "",
			CreatedAt:  sp.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		li, lj := out[i].LastUpdate, out[j].LastUpdate
		switch {
		case li == nil && lj == nil:
			return out[i].CreatedAt.After(out[j].CreatedAt)
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.After(*lj)
		}
	})
	return out, nil
}

// Search filters suspects by name: exact substring matches first, then
// fuzzy matches ranked by edit distance.
func (s *Service) Search(query string) ([]Summary, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return all, nil
	}

	var exact, fuzzyHits []Summary
	names := make(map[string]Summary, len(all))
	for _, sm := range all {
		if strings.Contains(sm.Name, query) {
			exact = append(exact, sm)
			continue
		}
		names[sm.Name] = sm
	}

	candidates := make([]string, 0, len(names))
	for name := range names {
		candidates = append(candidates, name)
	}
	ranks := fuzzy.RankFindFold(query, candidates)
	sort.Sort(ranks)
	for _, r := range ranks {
		fuzzyHits = append(fuzzyHits, names[r.Target])
	}
	return append(exact, fuzzyHits...), nil
}

// Delete removes a suspect and all transactions attached to it.
func (s *Service) Delete(id uint) error {
	sp, err := s.Get(id)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM transactions WHERE suspect_id = ?", sp.ID).Error; err != nil {
			return err
		}
		return tx.Delete(sp).Error
	})
}

// SetAnalysis stores a completed AI analysis together with the data
// signature it was computed against.
func (s *Service) SetAnalysis(id uint, analysis, signature string) error {
	return s.db.Model(&Suspect{}).Where("id = ?", id).
		Updates(map[string]any{"ai_analysis": analysis, "analysis_signature": signature}).Error
}

// SetReport records the current report location for a suspect.
func (s *Service) SetReport(id uint, root, main string) error {
	return s.db.Model(&Suspect{}).Where("id = ?", id).
		Updates(map[string]any{"report_root": root, "report_main": main}).Error
}
