// Package tabular maps header-located grids - spreadsheet rows or extracted
// PDF tables - onto canonical records using the locked platform layout.
package tabular

import (
	"strings"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/detect"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/normalizer"
)

// Layout names the columns of one platform export. Amount headers are tried
// in the listed order; platform exports are inconsistent about fullwidth
// parentheses.
type Layout struct {
	ID            string
	Time          string
	Type          string
	Category      string
	Method        string
	AmountHeaders []string
	Counterparty  string
	Merchant      string
	// MinIDDigits filters footer/header repeats: rows whose id cell holds
	// fewer digits are discarded.
	MinIDDigits int
}

var wechatLayout = Layout{
	ID:            "交易单号",
	Time:          "交易时间",
	Type:          "交易类型",
	Category:      "收/支",
	Method:        "交易方式",
	AmountHeaders: []string{"金额(元)", "金额（元）"},
	Counterparty:  "交易对方",
	Merchant:      "商户单号",
	MinIDDigits:   5,
}

var alipayLayout = Layout{
	ID:            "交易订单号",
	Time:          "交易时间",
	Type:          "商品说明",
	Category:      "收/支",
	Method:        "收/付款方式",
	AmountHeaders: []string{"金额", "金额（元）"},
	Counterparty:  "交易对方",
	Merchant:      "商家订单号",
}

// LayoutFor returns the column layout of a classified platform.
func LayoutFor(t detect.BillType) (Layout, bool) {
	switch t {
	case detect.BillWeChat:
		return wechatLayout, true
	case detect.BillAlipay:
		return alipayLayout, true
	default:
		return Layout{}, false
	}
}

// FindHeader scans a grid for the row carrying a platform header signature
// and returns its index, or -1.
func FindHeader(grid [][]string) (int, detect.BillType) {
	for i, row := range grid {
		if t := detect.ClassifyHeader(row); t != detect.BillUnknown {
			return i, t
		}
	}
	return -1, detect.BillUnknown
}

// columns resolves header names to indices. Missing columns map to -1.
type columns struct {
	id, time, typ, category, method, amount, counterparty, merchant int
}

func resolveColumns(header []string, layout Layout) columns {
	cols := columns{id: -1, time: -1, typ: -1, category: -1, method: -1, amount: -1, counterparty: -1, merchant: -1}
	find := func(name string) int {
		for i, cell := range header {
			c := normalizer.StripSpace(normalizer.CleanCell(cell))
			if c == name {
				return i
			}
		}
		return -1
	}

	cols.id = find(layout.ID)
	cols.time = find(layout.Time)
	cols.typ = find(layout.Type)
	cols.method = find(layout.Method)
	cols.counterparty = find(layout.Counterparty)
	cols.merchant = find(layout.Merchant)
	for _, variant := range layout.AmountHeaders {
		if cols.amount = find(variant); cols.amount >= 0 {
			break
		}
	}
	// category headers appear as 收/支 or 收/支/其他
	for i, cell := range header {
		c := normalizer.StripSpace(normalizer.CleanCell(cell))
		if strings.HasPrefix(c, layout.Category) {
			cols.category = i
			break
		}
	}
	return cols
}

// MapGrid converts the data rows beneath a located header into records.
// Rows that fail coercion are skipped, never fatal. When headerIdx is -1 the
// whole grid is treated as data using the layout's fixed column order - the
// continuation-page case.
func MapGrid(grid [][]string, headerIdx int, layout Layout, sourceFile string) []bill.Record {
	var cols columns
	start := 0
	if headerIdx >= 0 {
		cols = resolveColumns(grid[headerIdx], layout)
		start = headerIdx + 1
	} else {
		// positional fallback: the platform's canonical column order
		cols = columns{id: 0, time: 1, typ: 2, category: 3, method: 4, amount: 5, counterparty: 6, merchant: 7}
	}

	records := make([]bill.Record, 0, len(grid)-start)
	for _, row := range grid[start:] {
		if rec, ok := coerceRow(row, cols, layout, sourceFile); ok {
			records = append(records, rec)
		}
	}
	return records
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return normalizer.CleanCell(row[idx])
}

func coerceRow(row []string, cols columns, layout Layout, sourceFile string) (bill.Record, bool) {
	id := cellAt(row, cols.id)
	timeCell := cellAt(row, cols.time)
	if id == "" || timeCell == "" {
		return bill.Record{}, false
	}
	// summary rows ("共X笔") and repeated headers sneak into extracted tables
	if strings.Contains(id, "共") || strings.Contains(id, "单号") {
		return bill.Record{}, false
	}
	if layout.MinIDDigits > 0 && digitCount(id) < layout.MinIDDigits {
		return bill.Record{}, false
	}

	rec := bill.Record{
		TransactionID: id,
		Type:          cellAt(row, cols.typ),
		Category:      normalizeCategory(cellAt(row, cols.category)),
		Method:        cellAt(row, cols.method),
		Counterparty:  cellAt(row, cols.counterparty),
		MerchantID:    normalizeMerchant(cellAt(row, cols.merchant)),
		SourceFile:    sourceFile,
	}

	if t, ok := normalizer.ParseFlexibleTime(timeCell); ok {
		rec.Time = &t
	}

	amount := normalizer.ParseAmount(cellAt(row, cols.amount))
	if amount.IsNegative() && rec.Category == bill.CategoryOther {
		rec.Category = bill.CategoryExpense
	}
	rec.Amount = amount.Abs()
	return rec, true
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func normalizeCategory(s string) string {
	switch s {
	case "", "/":
		return bill.CategoryOther
	default:
		return s
	}
}

func normalizeMerchant(s string) string {
	if s == "/" || s == "--" {
		return ""
	}
	return s
}
