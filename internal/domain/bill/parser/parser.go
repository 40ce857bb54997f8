// Package parser orchestrates bill parsing: extension dispatch, the PDF
// extraction cascade and deterministic id synthesis.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/detect"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/pdfext"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/sheet"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/tabular"
)

var (
	// ErrUnsupportedFormat rejects unknown and image extensions outright.
	ErrUnsupportedFormat = errors.New("不支持的文件格式")
	// ErrScannedDocument rejects image-based PDFs that carry no text layer.
	ErrScannedDocument = errors.New("PDF为扫描件，无法提取文本，请先OCR识别后导出文字版账单")
)

// certificatePhrase marks WeChat's transaction certificate layout, whose
// extracted grids are unreliable. Such documents are reconstructed from
// flowing text exclusively.
const certificatePhrase = "微信支付交易明细证明"

// minFirstPageText is the minimum first-page text length below which a PDF
// is treated as scanned. Checked once per document, not per page.
const minFirstPageText = 20

var (
	spreadsheetExts = map[string]bool{".xlsx": true, ".xls": true, ".csv": true}
	imageExts       = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".webp": true}
)

// ParseFile dispatches strictly by extension and returns the ordered record
// sequence. Parsing the same file twice yields identical output.
func ParseFile(path string) ([]bill.Record, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case spreadsheetExts[ext]:
		records, err := sheet.Extract(path)
		if err != nil {
			return nil, err
		}
		return fillIDs(records), nil
	case ext == ".pdf":
		records, err := parsePDF(path)
		if err != nil {
			return nil, err
		}
		return fillIDs(records), nil
	case imageExts[ext]:
		return nil, fmt.Errorf("%w: 图片账单无法直接解析，请提供PDF或表格导出文件", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parsePDF(path string) ([]bill.Record, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := reader.NumPage()
	if pages == 0 {
		return nil, nil
	}
	sourceFile := filepath.Base(path)

	// Whole-document pre-checks run once against the first page.
	firstText := pdfext.PageText(pdfext.PageFragments(reader.Page(1)))
	if len([]rune(strings.TrimSpace(firstText))) < minFirstPageText {
		return nil, ErrScannedDocument
	}
	if strings.Contains(firstText, certificatePhrase) ||
		(strings.Contains(firstText, "交易单号") && strings.Contains(firstText, "交易时间")) {
		return reconstructAllPages(reader, pages, sourceFile), nil
	}

	var (
		records []bill.Record
		docCtx  detect.Context
	)
	for i := 1; i <= pages; i++ {
		frags := pdfext.PageFragments(reader.Page(i))
		pageRecords := parsePage(frags, &docCtx, sourceFile)
		if len(pageRecords) == 0 {
			// mixed tabular/flowing documents: a page whose tables yielded
			// nothing new still gets the text fallback
			pageRecords = pdfext.ReconstructRecords(pdfext.PageText(frags), sourceFile)
		}
		records = append(records, pageRecords...)
	}
	return records, nil
}

// parsePage runs the grid cascade on one page: default geometry, then
// text-anchored geometry, then nothing (the caller falls back to text
// reconstruction). Empty is a valid outcome at every stage.
func parsePage(frags []pdfext.Fragment, docCtx *detect.Context, sourceFile string) []bill.Record {
	grid := pdfext.ExtractGrid(frags, pdfext.DefaultGeometry)
	if len(grid) == 0 {
		grid = pdfext.ExtractGrid(frags, pdfext.AnchoredGeometry)
	}
	if len(grid) == 0 {
		return nil
	}

	billType := docCtx.Resolve(grid)
	layout, ok := tabular.LayoutFor(billType)
	if !ok {
		return nil
	}
	headerIdx, _ := tabular.FindHeader(grid)
	return tabular.MapGrid(grid, headerIdx, layout, sourceFile)
}

func reconstructAllPages(reader *pdf.Reader, pages int, sourceFile string) []bill.Record {
	var records []bill.Record
	for i := 1; i <= pages; i++ {
		text := pdfext.PageText(pdfext.PageFragments(reader.Page(i)))
		records = append(records, pdfext.ReconstructRecords(text, sourceFile)...)
	}
	return records
}

// fillIDs synthesizes deterministic ids for records whose export carried
// none. Identical rows hash identically and collapse at insert time.
func fillIDs(records []bill.Record) []bill.Record {
	for i := range records {
		if records[i].TransactionID == "" {
			records[i].TransactionID = bill.SynthesizeID(records[i])
		}
	}
	return records
}
