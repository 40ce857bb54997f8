package report

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "archive.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractZip(t *testing.T) {
	t.Run("extracts nested entries", func(t *testing.T) {
		archive := writeZip(t, map[string]string{
			"index.html":     "<html></html>",
			"assets/app.js":  "console.log(1)",
			"assets/app.css": "body{}",
		})
		dest := t.TempDir()

		require.NoError(t, extractZip(archive, dest))
		for _, name := range []string{"index.html", "assets/app.js", "assets/app.css"} {
			_, err := os.Stat(filepath.Join(dest, name))
			assert.NoError(t, err, name)
		}
	})

	t.Run("path traversal aborts with zero files written", func(t *testing.T) {
		archive := writeZip(t, map[string]string{
			"good.html":       "<html></html>",
			"../escaped.html": "evil",
		})
		dest := t.TempDir()

		err := extractZip(archive, dest)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrArchiveInvalid)

		entries, readErr := os.ReadDir(dest)
		require.NoError(t, readErr)
		assert.Empty(t, entries, "nothing may be written on a zip-slip archive")

		_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escaped.html"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("unreadable archive", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not-a-zip.zip")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		assert.ErrorIs(t, extractZip(path, t.TempDir()), ErrArchiveInvalid)
	})
}

func TestCollapseRoot(t *testing.T) {
	t.Run("single wrapping dir without root html collapses", func(t *testing.T) {
		dest := t.TempDir()
		inner := filepath.Join(dest, "report-v2")
		require.NoError(t, os.MkdirAll(inner, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(inner, "index.html"), []byte("x"), 0o644))

		root, err := collapseRoot(dest)
		require.NoError(t, err)
		assert.Equal(t, inner, root)
	})

	t.Run("root html keeps the destination as root", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "assets"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dest, "index.html"), []byte("x"), 0o644))

		root, err := collapseRoot(dest)
		require.NoError(t, err)
		assert.Equal(t, dest, root)
	})

	t.Run("multiple dirs do not collapse", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "a"), 0o755))
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "b"), 0o755))

		root, err := collapseRoot(dest)
		require.NoError(t, err)
		assert.Equal(t, dest, root)
	})
}

func TestMainHTML(t *testing.T) {
	write := func(t *testing.T, dir string, names ...string) {
		t.Helper()
		for _, n := range names {
			require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
		}
	}

	t.Run("title token wins over index.html", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "index.html", "张三综合分析报告.html", "aaa.html")

		main, err := mainHTML(dir)
		require.NoError(t, err)
		assert.Equal(t, "张三综合分析报告.html", main)
	})

	t.Run("index.html beats lexicographic order", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "aaa.html", "index.html", "zzz.html")

		main, err := mainHTML(dir)
		require.NoError(t, err)
		assert.Equal(t, "index.html", main)
	})

	t.Run("lexicographically first as last resort", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "zzz.html", "bbb.htm", "ccc.html")

		main, err := mainHTML(dir)
		require.NoError(t, err)
		assert.Equal(t, "bbb.htm", main)
	})

	t.Run("no html candidate", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "readme.txt")
		_, err := mainHTML(dir)
		assert.ErrorIs(t, err, ErrNoHTML)
	})
}

func TestAccessLog(t *testing.T) {
	t.Run("touch then snapshot round-trips", func(t *testing.T) {
		log, err := NewAccessLog(filepath.Join(t.TempDir(), "log.json"))
		require.NoError(t, err)

		require.NoError(t, log.Touch("/reports/1/v1"))
		snap, err := log.Snapshot()
		require.NoError(t, err)
		require.Contains(t, snap, "/reports/1/v1")
		assert.WithinDuration(t, time.Now(), snap["/reports/1/v1"], 5*time.Second)
	})

	t.Run("forget removes an entry", func(t *testing.T) {
		log, err := NewAccessLog(filepath.Join(t.TempDir(), "log.json"))
		require.NoError(t, err)
		require.NoError(t, log.Touch("/a"))
		require.NoError(t, log.Forget("/a"))

		snap, err := log.Snapshot()
		require.NoError(t, err)
		assert.Empty(t, snap)
	})

	t.Run("corrupt file starts fresh instead of failing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "log.json")
		require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))

		log, err := NewAccessLog(path)
		require.NoError(t, err)
		snap, err := log.Snapshot()
		require.NoError(t, err)
		assert.Empty(t, snap)
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seedAccess(t *testing.T, log *AccessLog, root string, age time.Duration) {
	t.Helper()
	require.NoError(t, log.Touch(root))
	snap, err := log.Snapshot()
	require.NoError(t, err)
	snap[root] = time.Now().Add(-age)
	log.mu.Lock()
	require.NoError(t, log.save(snap))
	log.mu.Unlock()
}

func TestSweeper(t *testing.T) {
	t.Run("expired root's container is deleted, fresh one kept", func(t *testing.T) {
		base := t.TempDir()
		reportsDir := filepath.Join(base, "reports")
		oldRoot := filepath.Join(reportsDir, "1", "v-old", "inner")
		freshRoot := filepath.Join(reportsDir, "2", "v-new")
		require.NoError(t, os.MkdirAll(oldRoot, 0o755))
		require.NoError(t, os.MkdirAll(freshRoot, 0o755))

		log, err := NewAccessLog(filepath.Join(base, "log.json"))
		require.NoError(t, err)
		seedAccess(t, log, oldRoot, 40*24*time.Hour)
		require.NoError(t, log.Touch(freshRoot))

		sw := NewSweeper(log, reportsDir, 30*24*time.Hour, testLogger())
		removed := sw.Sweep()
		assert.Equal(t, 1, removed)

		// container dir (reports/1/v-old), not just the leaf, is gone
		_, err = os.Stat(filepath.Join(reportsDir, "1", "v-old"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(freshRoot)
		assert.NoError(t, err)

		snap, err := log.Snapshot()
		require.NoError(t, err)
		assert.NotContains(t, snap, oldRoot)
		assert.Contains(t, snap, freshRoot)
	})

	t.Run("roots outside the managed tree are ignored", func(t *testing.T) {
		base := t.TempDir()
		reportsDir := filepath.Join(base, "reports")
		require.NoError(t, os.MkdirAll(reportsDir, 0o755))

		outside := filepath.Join(base, "elsewhere", "data")
		require.NoError(t, os.MkdirAll(outside, 0o755))

		log, err := NewAccessLog(filepath.Join(base, "log.json"))
		require.NoError(t, err)
		seedAccess(t, log, outside, 365*24*time.Hour)

		sw := NewSweeper(log, reportsDir, 30*24*time.Hour, testLogger())
		assert.Equal(t, 0, sw.Sweep())

		_, err = os.Stat(outside)
		assert.NoError(t, err, "unmanaged roots must never be deleted")
	})
}

// fakeTool stands in for an external decompressor.
type fakeTool struct {
	name      string
	available bool
	err       error
	calls     int
}

func (f *fakeTool) Name() string    { return f.name }
func (f *fakeTool) Available() bool { return f.available }
func (f *fakeTool) Extract(ctx context.Context, archive, dest string) error {
	f.calls++
	return f.err
}

func TestExtractRar(t *testing.T) {
	t.Run("first available tool is used", func(t *testing.T) {
		missing := &fakeTool{name: "unar", available: false}
		working := &fakeTool{name: "unrar", available: true}
		never := &fakeTool{name: "7z", available: true}

		err := extractRar(context.Background(), []Tool{missing, working, never}, "a.rar", "/tmp/x")
		require.NoError(t, err)
		assert.Equal(t, 0, missing.calls)
		assert.Equal(t, 1, working.calls)
		assert.Equal(t, 0, never.calls)
	})

	t.Run("no tool available yields remediation error", func(t *testing.T) {
		err := extractRar(context.Background(), []Tool{
			&fakeTool{name: "unar"}, &fakeTool{name: "unrar"},
		}, "a.rar", "/tmp/x")
		assert.ErrorIs(t, err, ErrToolMissing)
	})

	t.Run("tool failure propagates", func(t *testing.T) {
		boom := errors.New("exit status 2")
		err := extractRar(context.Background(), []Tool{
			&fakeTool{name: "unar", available: true, err: boom},
		}, "a.rar", "/tmp/x")
		assert.ErrorIs(t, err, boom)
	})
}

func TestAccepts(t *testing.T) {
	assert.True(t, Accepts("report.zip"))
	assert.True(t, Accepts("report.RAR"))
	assert.False(t, Accepts("report.tar.gz"))
	assert.False(t, Accepts("report.html"))
}
