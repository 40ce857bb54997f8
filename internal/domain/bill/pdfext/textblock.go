package pdfext

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/normalizer"
)

// Text-block reconstruction recovers one transaction per contiguous block of
// flowing text when no grid is recoverable from a page. WeChat's transaction
// certificate layout in particular produces unreliable grids and is parsed
// exclusively this way.

var (
	dateRx     = regexp.MustCompile(`\d{4}[-/.年]\d{1,2}[-/.月]\d{1,2}日?`)
	dateOnlyRx = regexp.MustCompile(`^\d{4}[-/.年]\d{1,2}[-/.月]\d{1,2}日?$`)
	clockRx    = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?`)
	idRunRx    = regexp.MustCompile(`\d{16,}`)
	digitRunRx = regexp.MustCompile(`\d{4,}`)

	// Monetary token forms, in the order they are probed for the amount.
	moneyDecimalRx = regexp.MustCompile(`\d[\d,]*\.\d{2}`)
	moneyMarkedRx  = regexp.MustCompile(`[¥￥]\s*\d[\d,]*(?:\.\d+)?`)
	moneyYuanRx    = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?元`)
)

// incomeKeywords / expenseKeywords classify a block's flow direction.
var (
	incomeKeywords  = []string{"收入", "转入", "退款"}
	expenseKeywords = []string{"支出", "转出", "消费"}
)

// methodVocabulary is the fixed payment-instrument vocabulary. Longer tokens
// precede their prefixes so 零钱通 wins over 零钱.
var methodVocabulary = []string{
	"零钱通", "零钱", "余额宝", "余额", "储蓄卡", "信用卡", "银行卡",
	"亲属卡", "花呗", "经营账户",
}

var methodMatcher = ahocorasick.NewStringMatcher(methodVocabulary)

const lookAheadLimit = 3

// ReconstructRecords scans flowing page text and emits one record per
// completed transaction block. Blocks that never satisfy the completion
// criteria are dropped silently - reconstruction never fails a document.
func ReconstructRecords(text, sourceFile string) []bill.Record {
	lines := prepareLines(text)

	var records []bill.Record
	i := 0
	for i < len(lines) {
		if !candidateStart(lines[i]) {
			i++
			continue
		}

		block := lines[i]
		j := i + 1
		for !blockComplete(block) && j < len(lines) && j-i <= lookAheadLimit {
			if candidateStart(lines[j]) {
				break
			}
			block += " " + lines[j]
			j++
		}

		if blockComplete(block) {
			if rec, ok := recordFromBlock(block, sourceFile); ok {
				records = append(records, rec)
			}
		}
		i = j
	}
	return records
}

// prepareLines splits, cleans and pre-merges: a lone date line followed by a
// line starting with a clock time becomes one "date time ..." line.
func prepareLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = normalizer.CleanCell(l); l != "" {
			lines = append(lines, l)
		}
	}

	merged := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if i+1 < len(lines) && dateOnlyRx.MatchString(lines[i]) && startsWithClock(lines[i+1]) {
			merged = append(merged, lines[i]+" "+lines[i+1])
			i++
			continue
		}
		merged = append(merged, lines[i])
	}
	return merged
}

func startsWithClock(s string) bool {
	loc := clockRx.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

func candidateStart(line string) bool {
	return dateRx.MatchString(line) && idRunRx.MatchString(line)
}

func blockComplete(block string) bool {
	return dateRx.MatchString(block) &&
		clockRx.MatchString(block) &&
		moneyToken(block) != nil
}

// moneyToken returns the position and text of the earliest monetary token,
// or nil when the block holds none.
func moneyToken(block string) []int {
	var best []int
	for _, rx := range []*regexp.Regexp{moneyDecimalRx, moneyMarkedRx, moneyYuanRx} {
		if loc := rx.FindStringIndex(block); loc != nil {
			if best == nil || loc[0] < best[0] {
				best = loc
			}
		}
	}
	return best
}

func recordFromBlock(block, sourceFile string) (bill.Record, bool) {
	id := longestIDRun(block)
	dateLoc := dateRx.FindStringIndex(block)
	if id == "" && dateLoc == nil {
		return bill.Record{}, false
	}

	rec := bill.Record{
		TransactionID: id,
		Category:      bill.CategoryOther,
		SourceFile:    sourceFile,
	}

	// datetime: matched date plus the clock time when present
	if dateLoc != nil {
		composed := block[dateLoc[0]:dateLoc[1]]
		if clock := clockRx.FindString(block); clock != "" {
			composed += " " + clock
		}
		if t, ok := normalizer.ParseFlexibleTime(composed); ok {
			rec.Time = &t
		}
	}

	catLoc := categoryKeyword(block, &rec)

	amountLoc := moneyToken(block)
	if amountLoc != nil {
		amount := normalizer.ParseAmount(strings.TrimRight(block[amountLoc[0]:amountLoc[1]], "元"))
		if amount.IsNegative() {
			rec.Category = bill.CategoryExpense
		}
		rec.Amount = amount.Abs()
	}

	if hits := methodMatcher.Match([]byte(block)); len(hits) > 0 {
		first := hits[0]
		for _, h := range hits {
			if h < first {
				first = h
			}
		}
		rec.Method = methodVocabulary[first]
	}

	rec.Type = typeToken(block, catLoc)
	rec.Counterparty = counterpartySegment(block, amountLoc)
	return rec, true
}

// longestIDRun picks the longest >=16-digit run; equal lengths break ties by
// lexical order so repeated parses stay deterministic.
func longestIDRun(block string) string {
	runs := idRunRx.FindAllString(block, -1)
	if len(runs) == 0 {
		return ""
	}
	sort.Slice(runs, func(i, j int) bool {
		if len(runs[i]) != len(runs[j]) {
			return len(runs[i]) > len(runs[j])
		}
		return runs[i] < runs[j]
	})
	return runs[0]
}

// categoryKeyword sets the flow category from the first keyword hit and
// returns the keyword's location for type extraction, or nil.
func categoryKeyword(block string, rec *bill.Record) []int {
	type hit struct {
		loc      []int
		category string
	}
	var best *hit
	consider := func(keywords []string, category string) {
		for _, kw := range keywords {
			if idx := strings.Index(block, kw); idx >= 0 {
				if best == nil || idx < best.loc[0] {
					best = &hit{loc: []int{idx, idx + len(kw)}, category: category}
				}
			}
		}
	}
	consider(incomeKeywords, bill.CategoryIncome)
	consider(expenseKeywords, bill.CategoryExpense)
	if best == nil {
		return nil
	}
	rec.Category = best.category
	return best.loc
}

// typeToken is the first whitespace token of the segment between the time
// token and the category keyword.
func typeToken(block string, catLoc []int) string {
	timeLoc := clockRx.FindStringIndex(block)
	if timeLoc == nil {
		return ""
	}
	end := len(block)
	if catLoc != nil && catLoc[0] > timeLoc[1] {
		end = catLoc[0]
	}
	segment := strings.TrimSpace(block[timeLoc[1]:end])
	if segment == "" {
		return ""
	}
	return strings.Fields(segment)[0]
}

// counterpartySegment is the text after the amount token up to the next "/",
// with digit runs and clock times stripped.
func counterpartySegment(block string, amountLoc []int) string {
	if amountLoc == nil {
		return ""
	}
	segment := block[amountLoc[1]:]
	if idx := strings.Index(segment, "/"); idx >= 0 {
		segment = segment[:idx]
	}
	segment = digitRunRx.ReplaceAllString(segment, "")
	segment = clockRx.ReplaceAllString(segment, "")
	return normalizer.CleanCell(segment)
}
