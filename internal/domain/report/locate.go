package report

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// mainTitleToken marks the preferred report entry page by filename.
const mainTitleToken = "分析报告"

// collapseRoot returns the effective report root. When the extracted
// tree has no root-level HTML and exactly one subdirectory (the common
// "folder inside the zip" layout), that subdirectory becomes the root.
func collapseRoot(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}

	var dirs []string
	hasHTML := false
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		if isHTML(e.Name()) {
			hasHTML = true
		}
	}
	if !hasHTML && len(dirs) == 1 {
		return filepath.Join(dest, dirs[0]), nil
	}
	return dest, nil
}

// mainHTML picks the entry page among the root's HTML files: a filename
// carrying the report title token wins, then index.html, then the
// lexicographically first candidate.
func mainHTML(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	var candidates []string
	for _, e := range entries {
		if !e.IsDir() && isHTML(e.Name()) {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", ErrNoHTML
	}
	sort.Strings(candidates)

	for _, name := range candidates {
		if strings.Contains(name, mainTitleToken) {
			return name, nil
		}
	}
	for _, name := range candidates {
		if strings.EqualFold(name, "index.html") {
			return name, nil
		}
	}
	return candidates[0], nil
}

func isHTML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".html" || ext == ".htm"
}
