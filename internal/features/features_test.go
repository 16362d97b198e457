package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func day(s string) time.Time {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAmountTier(t *testing.T) {
	tests := []struct {
		amount float64
		want   int
	}{
		{0.01, 1},
		{1000, 1},
		{1000.01, 2},
		{5000, 2},
		{20000, 3},
		{20000.5, 4},
		{50000, 4},
		{50001, 5},
		{1e9, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AmountTier(tt.amount), "amount %v", tt.amount)
	}
}

func TestSeasonalFactor(t *testing.T) {
	assert.Equal(t, 0.90, SeasonalFactor(time.January))
	assert.Equal(t, 0.80, SeasonalFactor(time.August))
	assert.Equal(t, 1.25, SeasonalFactor(time.December))

	for m := time.January; m <= time.December; m++ {
		f := SeasonalFactor(m)
		assert.GreaterOrEqual(t, f, 0.80)
		assert.LessOrEqual(t, f, 1.25)
	}
}

func TestFromTransaction(t *testing.T) {
	// 2026-01-31 is a Saturday.
	tx := &domain.Transaction{
		ID:           "tx-1",
		ExpectedDate: day("2026-01-31"),
		Amount:       7500,
		Type:         domain.FlowInflow,
		SourceModule: domain.SourceMarketplace,
		Status:       domain.StatusCleared,
	}

	row := FromTransaction(tx)
	assert.Equal(t, int(time.Saturday), row.DayOfWeek)
	assert.Equal(t, 1, row.Month)
	assert.Equal(t, 31, row.DayOfMonth)
	assert.True(t, row.IsInflow)
	assert.True(t, row.IsMarketplace)
	assert.False(t, row.IsInvoice)
	assert.False(t, row.IsExpense)
	assert.True(t, row.IsWeekend)
	assert.True(t, row.IsMonthEnd)
	assert.Equal(t, 3, row.AmountCategory)
	assert.Equal(t, 0.90, row.SeasonalFactor)

	vec := row.Vector()
	require.Len(t, vec, Width)
	assert.Equal(t, []float64{7500, 6, 1, 31, 1, 1, 0, 0, 1, 1, 3, 0.90}, vec)
}

func TestMonthEndBoundary(t *testing.T) {
	mk := func(s string) Row {
		return FromTransaction(&domain.Transaction{ExpectedDate: day(s), Amount: 1, Type: domain.FlowOutflow})
	}
	assert.False(t, mk("2026-03-24").IsMonthEnd)
	assert.True(t, mk("2026-03-25").IsMonthEnd)
	// Tuesday
	assert.False(t, mk("2026-03-24").IsWeekend)
	// Sunday
	assert.True(t, mk("2026-03-22").IsWeekend)
	assert.Equal(t, 0, mk("2026-03-22").DayOfWeek)
}

func TestExtract(t *testing.T) {
	settled := day("2026-02-06")
	txs := []*domain.Transaction{
		{ID: "a", ExpectedDate: day("2026-02-02"), ActualDate: &settled, Amount: 100, Type: domain.FlowInflow, SourceModule: domain.SourceEInvoice},
		{ID: "b", ExpectedDate: day("2026-02-08"), ActualDate: &settled, Amount: 100, Type: domain.FlowOutflow, SourceModule: domain.SourceExpense},
		{ID: "c", ExpectedDate: day("2026-02-08"), Amount: 100, Type: domain.FlowOutflow, SourceModule: domain.SourceBank},
	}

	X, y := Extract(txs)
	require.Len(t, X, 3)
	assert.Equal(t, []float64{4, -2, 0}, y)
	assert.Equal(t, 1.0, X[0][6], "is_invoice")
	assert.Equal(t, 1.0, X[1][7], "is_expense")

	again, againY := Extract(txs)
	assert.Equal(t, X, again, "extraction is deterministic")
	assert.Equal(t, y, againY)
}
