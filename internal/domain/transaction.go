package domain

import (
	"time"
)

// DateLayout is the calendar-day format used on the wire and in storage.
const DateLayout = "2006-01-02"

// FlowType is the direction of a cash movement.
type FlowType string

const (
	FlowInflow  FlowType = "inflow"
	FlowOutflow FlowType = "outflow"
)

// SourceModule identifies the subsystem that produced a transaction.
type SourceModule string

const (
	SourceBank          SourceModule = "bank"
	SourceEInvoice      SourceModule = "e-invoice"
	SourceMarketplace   SourceModule = "marketplace"
	SourceSalesOrder    SourceModule = "sales_order"
	SourcePurchaseOrder SourceModule = "purchase_order"
	SourceExpense       SourceModule = "expense"
	SourcePayroll       SourceModule = "payroll"
	SourceManual        SourceModule = "manual"
)

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusPartial TransactionStatus = "partial"
	StatusOverdue TransactionStatus = "overdue"
	StatusCleared TransactionStatus = "cleared"
)

// OpenStatuses are the states a forecast folds into the balance.
var OpenStatuses = []TransactionStatus{StatusPending, StatusPartial, StatusOverdue}

// Transaction is a historical or pending cash movement.
// The forecasting core only reads transactions; they are written by the
// ledger that owns them.
type Transaction struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	BranchID string `json:"branchId,omitempty"`

	ExpectedDate time.Time  `json:"expectedDate"`
	ActualDate   *time.Time `json:"actualDate,omitempty"`

	Amount       float64           `json:"amount"`
	Type         FlowType          `json:"type"`
	SourceModule SourceModule      `json:"sourceModule"`
	Status       TransactionStatus `json:"status"`

	// BaseConfidence is the ledger's own confidence in the item (0-1).
	// Nil means fully confident.
	BaseConfidence *float64 `json:"baseConfidence,omitempty"`

	Category        string `json:"category,omitempty"`
	ReferenceNo     string `json:"referenceNo,omitempty"`
	PaymentTermDays *int   `json:"paymentTermDays,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsInflow reports whether the transaction adds to the balance.
func (t *Transaction) IsInflow() bool {
	return t.Type == FlowInflow
}

// Baseline returns the stored confidence, defaulting to 1.0.
func (t *Transaction) Baseline() float64 {
	if t.BaseConfidence == nil {
		return 1.0
	}
	return *t.BaseConfidence
}

// DelayDays is the signed settlement delay in days. Zero when unsettled.
func (t *Transaction) DelayDays() float64 {
	if t.ActualDate == nil {
		return 0
	}
	return t.ActualDate.Sub(t.ExpectedDate).Hours() / 24
}

// Validate checks the fields a stored transaction must carry.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if t.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive", Value: t.Amount}
	}
	if t.Type != FlowInflow && t.Type != FlowOutflow {
		return &ValidationError{Field: "type", Reason: "must be inflow or outflow", Value: t.Type}
	}
	switch t.Status {
	case StatusPending, StatusPartial, StatusOverdue, StatusCleared:
	default:
		return &ValidationError{Field: "status", Reason: "unknown status", Value: t.Status}
	}
	if t.ExpectedDate.IsZero() {
		return &ValidationError{Field: "expectedDate", Reason: "is required"}
	}
	return nil
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
