package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

var (
	// ErrToolMissing is returned when no rar-capable tool is installed.
	ErrToolMissing = errors.New("未找到可用的解压工具，请安装 unar、unrar、7z 或 bsdtar")
	// ErrToolTimeout is returned when extraction exceeds the wall-clock bound.
	ErrToolTimeout = errors.New("解压超时")
	// ErrToolFailure is returned when the tool exits non-zero.
	ErrToolFailure = errors.New("解压失败")
)

// Tool is one external decompression capability. Anything offering
// extract-to-directory, overwrite, non-interactive semantics qualifies.
type Tool interface {
	Name() string
	Available() bool
	Extract(ctx context.Context, archive, dest string) error
}

type execTool struct {
	name string
	args func(archive, dest string) []string
}

func (t execTool) Name() string { return t.name }

func (t execTool) Available() bool {
	_, err := exec.LookPath(t.name)
	return err == nil
}

func (t execTool) Extract(ctx context.Context, archive, dest string) error {
	cmd := exec.CommandContext(ctx, t.name, t.args(archive, dest)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return ErrToolTimeout
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrToolFailure, t.name, firstLine(stderr.String()))
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// DefaultTools is the rar extraction preference order.
func DefaultTools() []Tool {
	return []Tool{
		execTool{"unar", func(a, d string) []string {
			return []string{"-force-overwrite", "-o", d, a}
		}},
		execTool{"unrar", func(a, d string) []string {
			return []string{"x", "-o+", "-y", a, d + string('/')}
		}},
		execTool{"7z", func(a, d string) []string {
			return []string{"x", "-y", "-o" + d, a}
		}},
		execTool{"bsdtar", func(a, d string) []string {
			return []string{"-xf", a, "-C", d}
		}},
	}
}

// extractRar runs the first available tool from the preference list.
func extractRar(ctx context.Context, tools []Tool, archive, dest string) error {
	for _, t := range tools {
		if !t.Available() {
			continue
		}
		return t.Extract(ctx, archive, dest)
	}
	return ErrToolMissing
}
