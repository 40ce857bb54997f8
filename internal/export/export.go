// Package export renders transactions as downloadable CSV.
package export

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
)

// Column headers mirror the WeChat export so the file round-trips
// through the same spreadsheet tooling users already have.
type csvRow struct {
	TransactionID string `csv:"交易单号"`
	Time          string `csv:"交易时间"`
	Type          string `csv:"交易类型"`
	Category      string `csv:"收/支"`
	Method        string `csv:"交易方式"`
	Amount        string `csv:"金额(元)"`
	Counterparty  string `csv:"交易对方"`
	MerchantID    string `csv:"商户单号"`
	SourceFile    string `csv:"来源文件"`
}

// WriteCSV streams rows as UTF-8 CSV with a BOM so Excel renders the
// Chinese headers correctly.
func WriteCSV(w io.Writer, rows []repository.Transaction) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	out := make([]csvRow, 0, len(rows))
	for _, t := range rows {
		ts := ""
		if t.TransactionTime != nil {
			ts = t.TransactionTime.Format("2006-01-02 15:04:05")
		}
		out = append(out, csvRow{
			TransactionID: t.TransactionID,
			Time:          ts,
			Type:          t.TransactionType,
			Category:      t.Category,
			Method:        t.Method,
			Amount:        fmt.Sprintf("%.2f", t.Amount),
			Counterparty:  t.Counterparty,
			MerchantID:    t.MerchantID,
			SourceFile:    t.SourceFile,
		})
	}
	return gocsv.Marshal(&out, w)
}
