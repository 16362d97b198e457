package forecast

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MaxRecommendations caps the advisories attached to one day.
const MaxRecommendations = 5

// Recommender writes the advisory text for a forecast day.
type Recommender struct {
	currency string
}

// NewRecommender creates a recommender printing amounts in currency.
func NewRecommender(currency string) *Recommender {
	if currency == "" {
		currency = "TRY"
	}
	return &Recommender{currency: currency}
}

// Recommend returns at most MaxRecommendations advisories for a day.
func (r *Recommender) Recommend(balance float64, txs []*domain.Transaction, level domain.RiskLevel) []string {
	out := make([]string, 0, 3)

	switch level {
	case domain.RiskCritical:
		out = append(out, "CRITICAL: cash shortage risk. Urgent collection is required.")
		if balance < 0 {
			out = append(out, fmt.Sprintf("Balance is negative by %s. Urgent financing may be needed.",
				r.money(decimal.NewFromFloat(-balance))))
		}
	case domain.RiskHigh:
		out = append(out, "HIGH RISK: monitor cash flow closely.")
	}

	var overdue int
	total := decimal.Zero
	for _, tx := range txs {
		if tx.IsInflow() && tx.Status == domain.StatusOverdue {
			overdue++
			total = total.Add(decimal.NewFromFloat(tx.Amount))
		}
	}
	if overdue > 0 {
		out = append(out, fmt.Sprintf("%d overdue receivables (%s). Notify the collections team.",
			overdue, r.money(total)))
	}

	if len(out) > MaxRecommendations {
		out = out[:MaxRecommendations]
	}
	return out
}

func (r *Recommender) money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return humanize.FormatFloat("#,###.##", f) + " " + r.currency
}
