// Package report installs, serves and expires extracted HTML report trees.
package report

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrArchiveInvalid is returned when an archive cannot be read or an
	// entry would escape the extraction directory.
	ErrArchiveInvalid = errors.New("压缩包无效或包含非法路径")
	// ErrUnsupportedArchive is returned for anything other than zip/rar.
	ErrUnsupportedArchive = errors.New("仅支持 zip 或 rar 格式的报告压缩包")
	// ErrNoHTML is returned when the extracted tree contains no HTML file.
	ErrNoHTML = errors.New("压缩包中未找到报告主页文件")
)

// containedPath resolves an archive entry name inside dest and rejects
// any path that escapes it.
func containedPath(dest, name string) (string, error) {
	p := filepath.Join(dest, name)
	base := filepath.Clean(dest)
	if p != base && !strings.HasPrefix(p, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrArchiveInvalid, name)
	}
	return p, nil
}

// extractZip unpacks archive into dest. Every entry path is validated
// before anything is written, so a malicious archive leaves no files
// behind.
func extractZip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveInvalid, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if _, err := containedPath(dest, f.Name); err != nil {
			return err
		}
	}

	for _, f := range r.File {
		target, err := containedPath(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
		if err := writeZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveInvalid, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}
