// Package pdfext recovers tabular and flowing transaction data from PDF
// statement pages. Extraction works on positioned text fragments so the
// strategies can be exercised in tests without real PDF fixtures.
package pdfext

import (
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Fragment is one positioned text run on a page. Y grows upward (PDF user
// space), so visual reading order is Y descending, X ascending.
type Fragment struct {
	X, Y, W float64
	S       string
}

// Geometry tunes how fragments are clustered into a grid.
type Geometry struct {
	// RowTolerance is the maximum Y distance between fragments of one row.
	RowTolerance float64
	// CellGap is the minimum horizontal gap that separates two cells.
	CellGap float64
	// Anchored switches to text-anchored columns: column boundaries are
	// clustered from fragment start positions across the whole page instead
	// of per-row gaps.
	Anchored bool
	// AnchorTolerance merges fragment start positions into one column anchor.
	AnchorTolerance float64
}

// DefaultGeometry is the line-based first attempt.
var DefaultGeometry = Geometry{RowTolerance: 2.0, CellGap: 12.0}

// AnchoredGeometry is the retry used when the default yields nothing.
var AnchoredGeometry = Geometry{RowTolerance: 5.0, CellGap: 8.0, Anchored: true, AnchorTolerance: 6.0}

const intraCellGap = 2.5 // gap below which fragments join without a space

// PageFragments adapts a ledongthuc/pdf page to the Fragment slice the
// extraction strategies consume.
func PageFragments(p pdf.Page) []Fragment {
	if p.V.IsNull() {
		return nil
	}
	content := p.Content()
	frags := make([]Fragment, 0, len(content.Text))
	for _, t := range content.Text {
		if strings.TrimSpace(t.S) == "" && t.S != " " {
			continue
		}
		frags = append(frags, Fragment{X: t.X, Y: t.Y, W: t.W, S: t.S})
	}
	return frags
}

// ExtractGrid clusters fragments into a 2-D grid of cell strings.
// An unusable page yields nil - empty is a valid, non-fatal outcome.
func ExtractGrid(frags []Fragment, geom Geometry) [][]string {
	rows := clusterRows(frags, geom.RowTolerance)
	if len(rows) == 0 {
		return nil
	}

	var grid [][]string
	if geom.Anchored {
		anchors := columnAnchors(rows, geom.AnchorTolerance)
		if len(anchors) < 2 {
			return nil
		}
		for _, row := range rows {
			grid = append(grid, splitByAnchors(row, anchors))
		}
	} else {
		for _, row := range rows {
			grid = append(grid, splitByGaps(row, geom.CellGap))
		}
	}

	// A "grid" where no row has at least two populated cells is not a table.
	usable := false
	for _, row := range grid {
		filled := 0
		for _, cell := range row {
			if cell != "" {
				filled++
			}
		}
		if filled >= 2 {
			usable = true
			break
		}
	}
	if !usable {
		return nil
	}
	return grid
}

// PageText flattens fragments into reading-order text, one visual row per
// line. It feeds the text-block reconstructor.
func PageText(frags []Fragment) string {
	rows := clusterRows(frags, DefaultGeometry.RowTolerance)
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, joinRow(row))
	}
	return strings.Join(lines, "\n")
}

// clusterRows groups fragments by Y within tolerance and orders them top to
// bottom, left to right.
func clusterRows(frags []Fragment, tolerance float64) [][]Fragment {
	if len(frags) == 0 {
		return nil
	}
	sorted := make([]Fragment, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows [][]Fragment
	current := []Fragment{sorted[0]}
	rowY := sorted[0].Y
	for _, f := range sorted[1:] {
		if rowY-f.Y <= tolerance {
			current = append(current, f)
			continue
		}
		rows = append(rows, sortRow(current))
		current = []Fragment{f}
		rowY = f.Y
	}
	rows = append(rows, sortRow(current))
	return rows
}

func sortRow(row []Fragment) []Fragment {
	sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
	return row
}

// splitByGaps turns one row into cells wherever the horizontal gap between
// neighbouring fragments reaches the cell gap.
func splitByGaps(row []Fragment, cellGap float64) []string {
	var cells []string
	var b strings.Builder
	cursor := 0.0
	for i, f := range row {
		if i > 0 {
			gap := f.X - cursor
			switch {
			case gap >= cellGap:
				cells = append(cells, strings.TrimSpace(b.String()))
				b.Reset()
			case gap > intraCellGap:
				b.WriteByte(' ')
			}
		}
		b.WriteString(f.S)
		if end := f.X + f.W; end > cursor {
			cursor = end
		}
	}
	if b.Len() > 0 {
		cells = append(cells, strings.TrimSpace(b.String()))
	}
	return cells
}

// columnAnchors clusters fragment start positions across all rows into the
// column boundaries of a ruled-line-free table.
func columnAnchors(rows [][]Fragment, tolerance float64) []float64 {
	var starts []float64
	for _, row := range rows {
		for _, f := range row {
			starts = append(starts, f.X)
		}
	}
	sort.Float64s(starts)

	var anchors []float64
	for _, x := range starts {
		if len(anchors) == 0 || x-anchors[len(anchors)-1] > tolerance {
			anchors = append(anchors, x)
		}
	}
	return anchors
}

// splitByAnchors assigns each fragment of a row to the nearest anchor at or
// before its start position.
func splitByAnchors(row []Fragment, anchors []float64) []string {
	cells := make([]strings.Builder, len(anchors))
	for _, f := range row {
		idx := sort.SearchFloat64s(anchors, f.X+1e-6) - 1
		if idx < 0 {
			idx = 0
		}
		if cells[idx].Len() > 0 {
			cells[idx].WriteByte(' ')
		}
		cells[idx].WriteString(f.S)
	}
	out := make([]string, len(anchors))
	for i := range cells {
		out[i] = strings.TrimSpace(cells[i].String())
	}
	return out
}

func joinRow(row []Fragment) string {
	var b strings.Builder
	cursor := 0.0
	for i, f := range row {
		if i > 0 && f.X-cursor > intraCellGap {
			b.WriteByte(' ')
		}
		b.WriteString(f.S)
		if end := f.X + f.W; end > cursor {
			cursor = end
		}
	}
	return strings.TrimSpace(b.String())
}
