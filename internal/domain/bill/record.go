// Package bill defines the canonical transaction record emitted by the
// statement parsers and the pure helpers shared by persistence.
package bill

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
)

// Category values used across the system. Platform exports use the same
// vocabulary, so they are stored verbatim.
const (
	CategoryIncome  = "收入"
	CategoryExpense = "支出"
	CategoryOther   = "其他"
)

// Record is one canonical bill line-item. Fields that are absent in the
// source default to "" / zero / nil - a Record is always fully populated.
type Record struct {
	TransactionID string
	Time          *time.Time
	Type          string
	Category      string
	Method        string
	Amount        decimal.Decimal
	Counterparty  string
	MerchantID    string
	SourceFile    string
}

// SynthesizeID derives a deterministic transaction id for records whose
// platform export carries none. Two fully identical rows hash to the same id
// and are treated as one record downstream.
func SynthesizeID(r Record) string {
	h := sha256.New()
	ts := ""
	if r.Time != nil {
		ts = r.Time.Format("2006-01-02 15:04:05")
	}
	for _, part := range []string{ts, r.Amount.String(), r.Counterparty, r.Type, r.Category, r.Method, r.MerchantID} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return "syn" + hex.EncodeToString(h.Sum(nil))[:32]
}

// NewRecords returns the subset of batch whose ids are not in existing.
// Within the batch the first occurrence of an id wins; later duplicates are
// dropped. Order is preserved.
func NewRecords(batch []Record, existing map[string]struct{}) []Record {
	seen := make(map[string]struct{}, len(batch))
	out := make([]Record, 0, len(batch))
	for _, r := range batch {
		if _, ok := existing[r.TransactionID]; ok {
			continue
		}
		if _, ok := seen[r.TransactionID]; ok {
			continue
		}
		seen[r.TransactionID] = struct{}{}
		out = append(out, r)
	}
	return out
}
