package service

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/internal/jobs"
)

const wechatCSV = "交易单号,交易时间,交易类型,收/支,交易方式,金额(元),交易对方,商户单号\n" +
	"42000012345678901234,2023-05-01 09:30:00,商户消费,支出,零钱,19.90,某某便利店,M1\n" +
	"42000012345678905678,2023-05-02 20:15:00,转账,收入,零钱通,200.00,张三,/\n"

func testPipeline(t *testing.T) (*Service, *suspect.Suspect, *repository.Repo, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&suspect.Suspect{}, &repository.Transaction{}))

	suspects := suspect.NewService(db, slog.Default())
	sp, err := suspects.Create("张三", "abc123")
	require.NoError(t, err)

	repo := repository.NewRepo(db)
	auditDir := t.TempDir()
	audit, err := jobs.NewAuditWriter(auditDir)
	require.NoError(t, err)
	svc := NewService(repo, jobs.NewStore(), jobs.NewGate(1),
		audit, t.TempDir(), slog.Default())
	return svc, sp, repo, auditDir
}

func stage(t *testing.T, svc *Service, jobID string, files map[string]string) (string, []StagedFile) {
	t.Helper()
	dir, err := svc.StageDir(jobID)
	require.NoError(t, err)

	var staged []StagedFile
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		staged = append(staged, StagedFile{Path: path, Name: name})
	}
	return dir, staged
}

func waitTerminal(t *testing.T, svc *Service, jobID string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		j, err := svc.Job(jobID)
		require.NoError(t, err)
		if j.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return jobs.Job{}
}

func TestService_Enqueue(t *testing.T) {
	t.Run("parses staged files and stores records", func(t *testing.T) {
		svc, sp, repo, auditDir := testPipeline(t)
		jobID := svc.NewJobID()
		dir, staged := stage(t, svc, jobID, map[string]string{"0000_wechat.csv": wechatCSV})

		job, err := svc.Enqueue(sp, jobID, dir, staged)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, job.Status)

		done := waitTerminal(t, svc, jobID)
		assert.Equal(t, jobs.StatusDone, done.Status)
		assert.Equal(t, "完成", done.Stage)
		assert.Contains(t, done.Detail, "新增 2 条记录")
		require.Len(t, done.Results, 1)
		assert.Equal(t, 2, done.Results[0].InsertedCount)
		assert.Equal(t, 2, done.Results[0].DistinctDays)

		count, err := repo.Count(sp.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)

		// Source file is recorded under the staged name.
		files, err := repo.Files(sp.ID)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "0000_wechat.csv", files[0].SourceFile)

		// Staging dir is cleaned up and an audit record is flushed.
		_, statErr := os.Stat(dir)
		assert.True(t, os.IsNotExist(statErr))
		entries, err := os.ReadDir(auditDir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Name(), jobID)
	})

	t.Run("re-upload inserts nothing new", func(t *testing.T) {
		svc, sp, _, _ := testPipeline(t)
		for range 2 {
			jobID := svc.NewJobID()
			dir, staged := stage(t, svc, jobID, map[string]string{"wechat.csv": wechatCSV})
			_, err := svc.Enqueue(sp, jobID, dir, staged)
			require.NoError(t, err)
			waitTerminal(t, svc, jobID)
		}

		j2 := svc.NewJobID()
		dir, staged := stage(t, svc, j2, map[string]string{"wechat.csv": wechatCSV})
		_, err := svc.Enqueue(sp, j2, dir, staged)
		require.NoError(t, err)
		done := waitTerminal(t, svc, j2)
		assert.Equal(t, jobs.StatusDone, done.Status)
		assert.Contains(t, done.Detail, "新增 0 条记录")
	})

	t.Run("all files failing marks the job as error", func(t *testing.T) {
		svc, sp, _, _ := testPipeline(t)
		jobID := svc.NewJobID()
		dir, staged := stage(t, svc, jobID, map[string]string{"garbage.csv": "不是账单"})

		_, err := svc.Enqueue(sp, jobID, dir, staged)
		require.NoError(t, err)
		done := waitTerminal(t, svc, jobID)
		assert.Equal(t, jobs.StatusError, done.Status)
		require.Len(t, done.Results, 1)
		assert.NotEmpty(t, done.Results[0].Error)
	})

	t.Run("mixed batch keeps the good file", func(t *testing.T) {
		svc, sp, repo, _ := testPipeline(t)
		jobID := svc.NewJobID()
		dir, staged := stage(t, svc, jobID, map[string]string{
			"0000_wechat.csv": wechatCSV,
			"0001_bad.csv":    "不是账单",
		})

		_, err := svc.Enqueue(sp, jobID, dir, staged)
		require.NoError(t, err)
		done := waitTerminal(t, svc, jobID)
		assert.Equal(t, jobs.StatusDone, done.Status)
		assert.Contains(t, done.Detail, "1 个文件解析失败")

		count, err := repo.Count(sp.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("empty upload is rejected", func(t *testing.T) {
		svc, sp, _, _ := testPipeline(t)
		jobID := svc.NewJobID()
		dir, err := svc.StageDir(jobID)
		require.NoError(t, err)

		_, err = svc.Enqueue(sp, jobID, dir, nil)
		assert.ErrorIs(t, err, ErrNoFiles)
	})

	t.Run("stored-records hook fires once per job", func(t *testing.T) {
		svc, sp, _, _ := testPipeline(t)
		fired := make(chan struct{}, 1)
		svc.OnRecordsStored(func() { fired <- struct{}{} })

		jobID := svc.NewJobID()
		dir, staged := stage(t, svc, jobID, map[string]string{"wechat.csv": wechatCSV})
		_, err := svc.Enqueue(sp, jobID, dir, staged)
		require.NoError(t, err)
		waitTerminal(t, svc, jobID)

		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatal("hook did not fire")
		}
	})

	t.Run("unknown job id", func(t *testing.T) {
		svc, _, _, _ := testPipeline(t)
		_, err := svc.Job("missing")
		assert.ErrorIs(t, err, jobs.ErrJobNotFound)
	})
}

// With a width-1 gate, no poll may ever observe more than one job in
// processing, no matter how many are queued at once.
func TestService_GateBoundsProcessing(t *testing.T) {
	svc, sp, _, _ := testPipeline(t)

	var csv strings.Builder
	csv.WriteString("交易单号,交易时间,交易类型,收/支,交易方式,金额(元),交易对方,商户单号\n")
	for i := 0; i < 800; i++ {
		fmt.Fprintf(&csv, "4200%016d,2023-05-01 09:%02d:%02d,商户消费,支出,零钱,9.90,店铺%d,M%d\n",
			i, i/60, i%60, i, i)
	}

	const launched = 4
	ids := make([]string, 0, launched)
	for w := 0; w < launched; w++ {
		jobID := svc.NewJobID()
		dir, staged := stage(t, svc, jobID, map[string]string{"wechat.csv": csv.String()})
		_, err := svc.Enqueue(sp, jobID, dir, staged)
		require.NoError(t, err)
		ids = append(ids, jobID)
	}
	assert.Equal(t, launched, svc.store.Len())

	deadline := time.Now().Add(15 * time.Second)
	for {
		assert.LessOrEqual(t, svc.store.CountByStatus(jobs.StatusProcessing), 1)

		terminal := 0
		for _, id := range ids {
			j, err := svc.Job(id)
			require.NoError(t, err)
			if j.Terminal() {
				terminal++
			}
		}
		if terminal == launched {
			break
		}
		require.True(t, time.Now().Before(deadline), "jobs never finished")
		time.Sleep(time.Millisecond)
	}

	for _, id := range ids {
		j, err := svc.Job(id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusDone, j.Status)
	}
}
