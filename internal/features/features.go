// Package features turns settlement records into the numeric table the
// delay model trains on. Everything here is a pure function of its input.
package features

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Columns names the vector positions, in order.
var Columns = []string{
	"amount",
	"day_of_week",
	"month",
	"day_of_month",
	"is_inflow",
	"is_marketplace",
	"is_invoice",
	"is_expense",
	"is_weekend",
	"is_month_end",
	"amount_category",
	"seasonal_factor",
}

// Width is the number of features per row.
var Width = len(Columns)

// monthlySeasonality is indexed by time.Month.
var monthlySeasonality = [13]float64{
	0,
	0.90, 0.95, 1.00, 1.05, 1.10, 1.05,
	0.85, 0.80, 1.10, 1.15, 1.20, 1.25,
}

// Row is one transaction's engineered features.
type Row struct {
	Amount         float64
	DayOfWeek      int // 0 = Sunday
	Month          int
	DayOfMonth     int
	IsInflow       bool
	IsMarketplace  bool
	IsInvoice      bool
	IsExpense      bool
	IsWeekend      bool
	IsMonthEnd     bool
	AmountCategory int
	SeasonalFactor float64
}

// FromTransaction derives the feature row for a transaction from its expected day.
func FromTransaction(tx *domain.Transaction) Row {
	day := domain.Day(tx.ExpectedDate)
	weekday := day.Weekday()

	return Row{
		Amount:         tx.Amount,
		DayOfWeek:      int(weekday),
		Month:          int(day.Month()),
		DayOfMonth:     day.Day(),
		IsInflow:       tx.IsInflow(),
		IsMarketplace:  tx.SourceModule == domain.SourceMarketplace,
		IsInvoice:      tx.SourceModule == domain.SourceEInvoice,
		IsExpense:      tx.SourceModule == domain.SourceExpense,
		IsWeekend:      weekday == time.Saturday || weekday == time.Sunday,
		IsMonthEnd:     day.Day() >= 25,
		AmountCategory: AmountTier(tx.Amount),
		SeasonalFactor: SeasonalFactor(day.Month()),
	}
}

// Vector flattens the row in Columns order.
func (r Row) Vector() []float64 {
	return []float64{
		r.Amount,
		float64(r.DayOfWeek),
		float64(r.Month),
		float64(r.DayOfMonth),
		flag(r.IsInflow),
		flag(r.IsMarketplace),
		flag(r.IsInvoice),
		flag(r.IsExpense),
		flag(r.IsWeekend),
		flag(r.IsMonthEnd),
		float64(r.AmountCategory),
		r.SeasonalFactor,
	}
}

// Extract builds the feature matrix and delay target for a set of settled
// transactions. Row i of X corresponds to txs[i].
func Extract(txs []*domain.Transaction) (X [][]float64, y []float64) {
	X = make([][]float64, len(txs))
	y = make([]float64, len(txs))
	for i, tx := range txs {
		X[i] = FromTransaction(tx).Vector()
		y[i] = tx.DelayDays()
	}
	return X, y
}

// AmountTier buckets an amount into five bands with inclusive upper bounds.
func AmountTier(amount float64) int {
	switch {
	case amount <= 1000:
		return 1
	case amount <= 5000:
		return 2
	case amount <= 20000:
		return 3
	case amount <= 50000:
		return 4
	default:
		return 5
	}
}

// SeasonalFactor is the fixed cash-flow multiplier for a calendar month.
func SeasonalFactor(m time.Month) float64 {
	if m < time.January || m > time.December {
		return 1.0
	}
	return monthlySeasonality[m]
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
