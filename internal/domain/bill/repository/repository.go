// Package repository persists parsed bill transactions.
package repository

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/captainmuzzol/billSherlock/internal/domain/bill"
)

// sqliteTimeFormats are the layouts the sqlite driver binds time values
// with, tried in order when reading expression columns back.
var sqliteTimeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05-07:00",
}

// RowTime parses a datetime scanned from a sqlite expression column.
// Aggregates like MAX(transaction_time) lose the column's declared type,
// so the driver hands back the stored text rather than a time.Time.
func RowTime(s string) *time.Time {
	for _, layout := range sqliteTimeFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}
	return nil
}

// Transaction 账单流水记录，(suspect_id, transaction_id) 去重
type Transaction struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SuspectID       uint       `gorm:"uniqueIndex:idx_suspect_txid;index;not null" json:"suspect_id"`
	TransactionID   string     `gorm:"size:64;uniqueIndex:idx_suspect_txid;not null" json:"transaction_id"`
	TransactionTime *time.Time `gorm:"index" json:"transaction_time"`
	TransactionType string     `gorm:"size:64" json:"transaction_type"`
	Category        string     `gorm:"size:16;index" json:"category"`
	Method          string     `gorm:"size:64" json:"method"`
	Amount          float64    `json:"amount"`
	Counterparty    string     `gorm:"size:255;index" json:"counterparty"`
	MerchantID      string     `gorm:"size:64" json:"merchant_id"`
	SourceFile      string     `gorm:"size:255;index" json:"source_file"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Repo wraps transaction persistence for one database.
type Repo struct {
	db *gorm.DB
}

// NewRepo creates a transaction repository.
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// InsertNew stores the records of a batch that are not already present
// for the suspect. Presence is keyed on transaction id, so re-uploading
// the same export is a no-op. Returns the number of rows inserted.
func (r *Repo) InsertNew(suspectID uint, batch []bill.Record) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(batch))
	for _, rec := range batch {
		ids = append(ids, rec.TransactionID)
	}

	var existingIDs []string
	if err := r.db.Model(&Transaction{}).
		Where("suspect_id = ? AND transaction_id IN ?", suspectID, ids).
		Pluck("transaction_id", &existingIDs).Error; err != nil {
		return 0, fmt.Errorf("query existing ids: %w", err)
	}
	existing := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = struct{}{}
	}

	fresh := bill.NewRecords(batch, existing)
	if len(fresh) == 0 {
		return 0, nil
	}

	rows := make([]Transaction, 0, len(fresh))
	for _, rec := range fresh {
		rows = append(rows, Transaction{
			SuspectID:       suspectID,
			TransactionID:   rec.TransactionID,
			TransactionTime: rec.Time,
			TransactionType: rec.Type,
			Category:        rec.Category,
			Method:          rec.Method,
			Amount:          rec.Amount.InexactFloat64(),
			Counterparty:    rec.Counterparty,
			MerchantID:      rec.MerchantID,
			SourceFile:      rec.SourceFile,
		})
	}
	if err := r.db.CreateInBatches(rows, 200).Error; err != nil {
		return 0, fmt.Errorf("insert transactions: %w", err)
	}
	return len(rows), nil
}

// Filter narrows transaction listings and statistics.
type Filter struct {
	Category        string
	TransactionType string
	Method          string
	// Counterparties matches any of the given names exactly.
	Counterparties []string
	Keyword        string
	SourceFile     string
	StartTime      *time.Time
	EndTime        *time.Time
	MinAmount      *float64
	MaxAmount      *float64
	SpecificAmount *float64
	// TimeOfDay is "day" (06:00-17:59) or "night" (18:00-05:59).
	TimeOfDay string
}

// scoped builds the filtered query. A zero suspectID means all suspects.
func (r *Repo) scoped(suspectID uint, f Filter) *gorm.DB {
	q := r.db.Model(&Transaction{})
	if suspectID != 0 {
		q = q.Where("suspect_id = ?", suspectID)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.TransactionType != "" {
		q = q.Where("transaction_type LIKE ?", "%"+f.TransactionType+"%")
	}
	if f.Method != "" {
		q = q.Where("method LIKE ?", "%"+f.Method+"%")
	}
	if len(f.Counterparties) > 0 {
		q = q.Where("counterparty IN ?", f.Counterparties)
	}
	if f.Keyword != "" {
		kw := "%" + f.Keyword + "%"
		q = q.Where("counterparty LIKE ? OR transaction_type LIKE ? OR method LIKE ?", kw, kw, kw)
	}
	if f.SourceFile != "" {
		q = q.Where("source_file = ?", f.SourceFile)
	}
	if f.StartTime != nil {
		q = q.Where("transaction_time >= ?", *f.StartTime)
	}
	if f.EndTime != nil {
		q = q.Where("transaction_time <= ?", *f.EndTime)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	if f.SpecificAmount != nil {
		q = q.Where("amount = ?", *f.SpecificAmount)
	}
	switch f.TimeOfDay {
	case "day":
		q = q.Where("CAST(strftime('%H', transaction_time) AS INTEGER) BETWEEN 6 AND 17")
	case "night":
		q = q.Where("CAST(strftime('%H', transaction_time) AS INTEGER) >= 18 OR CAST(strftime('%H', transaction_time) AS INTEGER) <= 5")
	}
	return q
}

// List returns filtered transactions, newest first, with total count for
// pagination.
func (r *Repo) List(suspectID uint, f Filter, offset, limit int) ([]Transaction, int64, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	var total int64
	if err := r.scoped(suspectID, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Transaction
	err := r.scoped(suspectID, f).
		Order("transaction_time DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	return rows, total, err
}

// ListAll returns every transaction matched by a filter, newest first.
func (r *Repo) ListAll(suspectID uint, f Filter) ([]Transaction, error) {
	var rows []Transaction
	err := r.scoped(suspectID, f).
		Order("transaction_time DESC, id DESC").
		Find(&rows).Error
	return rows, err
}

// SumAmount totals the amounts matched by a filter.
func (r *Repo) SumAmount(suspectID uint, f Filter) (float64, error) {
	var total float64
	err := r.scoped(suspectID, f).
		Select("COALESCE(SUM(amount),0)").
		Scan(&total).Error
	return total, err
}

// Summary aggregates a suspect's money flow.
type Summary struct {
	TotalCount    int64   `json:"total_count"`
	TotalIncome   float64 `json:"total_income"`
	TotalExpense  float64 `json:"total_expense"`
	IncomeCount   int64   `json:"income_count"`
	ExpenseCount  int64   `json:"expense_count"`
	MaxSingle     float64 `json:"max_single"`
	EarliestTime  *time.Time `json:"earliest_time"`
	LatestTime    *time.Time `json:"latest_time"`
	DistinctFiles int64   `json:"distinct_files"`
}

// Summarize computes income/expense totals under the given filter.
func (r *Repo) Summarize(suspectID uint, f Filter) (*Summary, error) {
	var sum Summary
	if err := r.scoped(suspectID, f).Count(&sum.TotalCount).Error; err != nil {
		return nil, err
	}

	type agg struct {
		Total float64
		Count int64
	}
	var income, expense agg
	if err := r.scoped(suspectID, f).
		Select("COALESCE(SUM(amount),0) AS total, COUNT(*) AS count").
		Where("category = ?", bill.CategoryIncome).
		Scan(&income).Error; err != nil {
		return nil, err
	}
	if err := r.scoped(suspectID, f).
		Select("COALESCE(SUM(amount),0) AS total, COUNT(*) AS count").
		Where("category = ?", bill.CategoryExpense).
		Scan(&expense).Error; err != nil {
		return nil, err
	}
	sum.TotalIncome, sum.IncomeCount = income.Total, income.Count
	sum.TotalExpense, sum.ExpenseCount = expense.Total, expense.Count

	var bounds struct {
		Earliest sql.NullString
		Latest   sql.NullString
		MaxAmt   float64
	}
	if err := r.scoped(suspectID, f).
		Select("MIN(transaction_time) AS earliest, MAX(transaction_time) AS latest, COALESCE(MAX(amount),0) AS max_amt").
		Scan(&bounds).Error; err != nil {
		return nil, err
	}
	if bounds.Earliest.Valid {
		sum.EarliestTime = RowTime(bounds.Earliest.String)
	}
	if bounds.Latest.Valid {
		sum.LatestTime = RowTime(bounds.Latest.String)
	}
	sum.MaxSingle = bounds.MaxAmt

	if err := r.scoped(suspectID, f).Distinct("source_file").Count(&sum.DistinctFiles).Error; err != nil {
		return nil, err
	}
	return &sum, nil
}

// CounterpartyStat is one row of the per-counterparty ranking.
type CounterpartyStat struct {
	Counterparty string  `json:"counterparty"`
	Count        int64   `json:"count"`
	TotalAmount  float64 `json:"total_amount"`
}

// TopCounterparties ranks counterparties by transaction volume.
func (r *Repo) TopCounterparties(suspectID uint, f Filter, limit int) ([]CounterpartyStat, error) {
	if limit < 1 || limit > 200 {
		limit = 20
	}
	var rows []CounterpartyStat
	err := r.scoped(suspectID, f).
		Select("counterparty, COUNT(*) AS count, COALESCE(SUM(amount),0) AS total_amount").
		Where("counterparty <> ''").
		Group("counterparty").
		Order("count DESC, total_amount DESC, counterparty ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// TopCounterpartiesByAmount ranks counterparties by total money moved.
func (r *Repo) TopCounterpartiesByAmount(suspectID uint, f Filter, limit int) ([]CounterpartyStat, error) {
	if limit < 1 || limit > 200 {
		limit = 10
	}
	var rows []CounterpartyStat
	err := r.scoped(suspectID, f).
		Select("counterparty, COUNT(*) AS count, COALESCE(SUM(amount),0) AS total_amount").
		Where("counterparty <> ''").
		Group("counterparty").
		Order("total_amount DESC, counterparty ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// DailyStat is one day of aggregated flow.
type DailyStat struct {
	Day     string  `json:"day"`
	Count   int64   `json:"count"`
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
}

// ByDate aggregates transactions per calendar day.
func (r *Repo) ByDate(suspectID uint, f Filter) ([]DailyStat, error) {
	var rows []DailyStat
	err := r.scoped(suspectID, f).
		Select(`strftime('%Y-%m-%d', transaction_time) AS day,
			COUNT(*) AS count,
			COALESCE(SUM(CASE WHEN category = ? THEN amount ELSE 0 END),0) AS income,
			COALESCE(SUM(CASE WHEN category = ? THEN amount ELSE 0 END),0) AS expense`,
			bill.CategoryIncome, bill.CategoryExpense).
		Where("transaction_time IS NOT NULL").
		Group("day").
		Order("day ASC").
		Scan(&rows).Error
	return rows, err
}

// FileStat describes one uploaded source file.
type FileStat struct {
	SourceFile string     `json:"source_file"`
	Count      int64      `json:"count"`
	Earliest   *time.Time `json:"earliest"`
	Latest     *time.Time `json:"latest"`
}

// Files lists the distinct source files a suspect's records came from.
func (r *Repo) Files(suspectID uint) ([]FileStat, error) {
	var rows []struct {
		SourceFile string
		Count      int64
		Earliest   sql.NullString
		Latest     sql.NullString
	}
	err := r.db.Model(&Transaction{}).
		Select("source_file, COUNT(*) AS count, MIN(transaction_time) AS earliest, MAX(transaction_time) AS latest").
		Where("suspect_id = ?", suspectID).
		Group("source_file").
		Order("source_file ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]FileStat, 0, len(rows))
	for _, row := range rows {
		fs := FileStat{SourceFile: row.SourceFile, Count: row.Count}
		if row.Earliest.Valid {
			fs.Earliest = RowTime(row.Earliest.String)
		}
		if row.Latest.Valid {
			fs.Latest = RowTime(row.Latest.String)
		}
		out = append(out, fs)
	}
	return out, nil
}

// DeleteFile removes every record imported from the named source file.
func (r *Repo) DeleteFile(suspectID uint, sourceFile string) (int64, error) {
	res := r.db.Where("suspect_id = ? AND source_file = ?", suspectID, sourceFile).
		Delete(&Transaction{})
	return res.RowsAffected, res.Error
}

// Count returns the number of stored transactions for a suspect.
func (r *Repo) Count(suspectID uint) (int64, error) {
	var n int64
	err := r.db.Model(&Transaction{}).Where("suspect_id = ?", suspectID).Count(&n).Error
	return n, err
}
