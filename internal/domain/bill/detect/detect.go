// Package detect classifies bill exports as WeChat-style or Alipay-style.
// Classification looks at header signature tokens first and falls back to a
// content heuristic for header-less continuation pages.
package detect

import (
	"regexp"
	"strings"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill/normalizer"
)

// BillType is the platform-format classification selecting the column layout.
type BillType int

const (
	BillUnknown BillType = iota
	BillWeChat
	BillAlipay
)

func (t BillType) String() string {
	switch t {
	case BillWeChat:
		return "wechat"
	case BillAlipay:
		return "alipay"
	default:
		return "unknown"
	}
}

// Header signature tokens. Both tokens of a pair must be present, in any cell
// arrangement, after whitespace stripping.
const (
	wechatIDHeader   = "交易单号"
	wechatTimeHeader = "交易时间"
	alipayFlowHeader = "收/支"
	alipayIDHeader   = "交易订单号"
)

var (
	datePattern  = regexp.MustCompile(`\d{4}[-/.年]\d{1,2}[-/.月]\d{1,2}`)
	longIDRun    = regexp.MustCompile(`\d{16,}`)
	clockPattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
)

// DatePattern reports whether s contains a calendar date.
func DatePattern(s string) bool { return datePattern.MatchString(s) }

// LongIDRun reports whether s contains a digit run of at least 16 characters,
// the shape of a platform transaction id.
func LongIDRun(s string) bool { return longIDRun.MatchString(s) }

// ClockPattern reports whether s contains a clock time.
func ClockPattern(s string) bool { return clockPattern.MatchString(s) }

// ClassifyHeader inspects one table row and returns the platform whose header
// signature it carries, or BillUnknown.
func ClassifyHeader(row []string) BillType {
	var hasWeChatID, hasWeChatTime, hasAlipayFlow, hasAlipayID bool
	for _, cell := range row {
		c := normalizer.StripSpace(normalizer.CleanCell(cell))
		// 交易订单号 contains 订单号 but not 交易单号, so contains-matching
		// cannot cross-classify the two platforms. Checks are independent:
		// extracted PDF tables sometimes fuse several headers into one cell.
		if strings.Contains(c, wechatIDHeader) {
			hasWeChatID = true
		}
		if strings.Contains(c, wechatTimeHeader) {
			hasWeChatTime = true
		}
		if strings.Contains(c, alipayIDHeader) {
			hasAlipayID = true
		}
		if strings.Contains(c, alipayFlowHeader) {
			hasAlipayFlow = true
		}
	}
	if hasWeChatID && hasWeChatTime {
		return BillWeChat
	}
	if hasAlipayFlow && hasAlipayID {
		return BillAlipay
	}
	return BillUnknown
}

// ClassifyGrid scans every row of a grid for a header signature.
func ClassifyGrid(grid [][]string) BillType {
	for _, row := range grid {
		if t := ClassifyHeader(row); t != BillUnknown {
			return t
		}
	}
	return BillUnknown
}

// LooksLikeWeChatRow is the content heuristic used when no header matched:
// a row holding both a date and a >=16-digit run is WeChat-like.
func LooksLikeWeChatRow(s string) bool {
	return datePattern.MatchString(s) && longIDRun.MatchString(s)
}

// Context carries the per-document sticky classification through the page
// loop. Once a header match locks the type, header-less tables and pages
// inherit it instead of re-guessing.
type Context struct {
	locked BillType
}

// Locked returns the document-level type, or BillUnknown before any lock.
func (c *Context) Locked() BillType { return c.locked }

// Lock fixes the document type on the first header match. Later calls with a
// different type are ignored; the first lock wins for the whole document.
func (c *Context) Lock(t BillType) {
	if c.locked == BillUnknown && t != BillUnknown {
		c.locked = t
	}
}

// Resolve classifies a grid, consulting and updating the sticky lock.
func (c *Context) Resolve(grid [][]string) BillType {
	if t := ClassifyGrid(grid); t != BillUnknown {
		c.Lock(t)
		return t
	}
	if c.locked != BillUnknown {
		return c.locked
	}
	for _, row := range grid {
		joined := ""
		for _, cell := range row {
			joined += cell + " "
		}
		if LooksLikeWeChatRow(joined) {
			return BillWeChat
		}
	}
	return BillUnknown
}
