package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RuleType selects the condition variant a rule carries.
type RuleType string

const (
	RuleMarketplaceDelay RuleType = "marketplace_delay"
	RuleSeasonalFactor   RuleType = "seasonal_factor"
	RulePaymentTerm      RuleType = "payment_term"
)

// ErrMalformedCondition marks a rule whose stored condition could not be decoded.
var ErrMalformedCondition = errors.New("malformed rule condition")

// Condition is the type-specific part of a rule.
// Exactly one variant exists per RuleType.
type Condition interface {
	RuleType() RuleType
	Validate() error
}

// MarketplaceDelayCondition matches marketplace items by reference prefix.
type MarketplaceDelayCondition struct {
	Prefix    string `json:"marketplacePrefix"`
	DelayDays int    `json:"delayDays"`
}

func (MarketplaceDelayCondition) RuleType() RuleType { return RuleMarketplaceDelay }

func (c MarketplaceDelayCondition) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return &ValidationError{Field: "condition.marketplacePrefix", Reason: "is required"}
	}
	if c.DelayDays < 0 {
		return &ValidationError{Field: "condition.delayDays", Reason: "must not be negative", Value: c.DelayDays}
	}
	return nil
}

// SeasonalCondition matches items expected inside an inclusive day range.
type SeasonalCondition struct {
	Start time.Time
	End   time.Time
}

type seasonalWire struct {
	Start string `json:"startDate"`
	End   string `json:"endDate"`
}

func (SeasonalCondition) RuleType() RuleType { return RuleSeasonalFactor }

func (c SeasonalCondition) Validate() error {
	if c.Start.IsZero() {
		return &ValidationError{Field: "condition.startDate", Reason: "is required"}
	}
	if c.End.IsZero() {
		return &ValidationError{Field: "condition.endDate", Reason: "is required"}
	}
	if c.End.Before(c.Start) {
		return &ValidationError{Field: "condition.endDate", Reason: "must not precede startDate", Value: c.End.Format(DateLayout)}
	}
	return nil
}

// Contains reports whether day falls inside the range, bounds included.
func (c SeasonalCondition) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(Day(c.Start)) && !d.After(Day(c.End))
}

func (c SeasonalCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(seasonalWire{
		Start: c.Start.Format(DateLayout),
		End:   c.End.Format(DateLayout),
	})
}

func (c *SeasonalCondition) UnmarshalJSON(data []byte) error {
	var w seasonalWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	start, err := ParseDay(w.Start)
	if err != nil {
		return &ValidationError{Field: "condition.startDate", Reason: "must be YYYY-MM-DD", Value: w.Start}
	}
	end, err := ParseDay(w.End)
	if err != nil {
		return &ValidationError{Field: "condition.endDate", Reason: "must be YYYY-MM-DD", Value: w.End}
	}
	c.Start, c.End = start, end
	return nil
}

// PaymentTermCondition matches items whose payment term is at least TermDays.
type PaymentTermCondition struct {
	TermDays int `json:"termDays"`
}

func (PaymentTermCondition) RuleType() RuleType { return RulePaymentTerm }

func (c PaymentTermCondition) Validate() error {
	if c.TermDays <= 0 {
		return &ValidationError{Field: "condition.termDays", Reason: "must be positive", Value: c.TermDays}
	}
	return nil
}

// DecodeCondition decodes a raw condition payload for the given rule type.
func DecodeCondition(t RuleType, raw []byte) (Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &ValidationError{Field: "condition", Reason: "is required"}
	}
	switch t {
	case RuleMarketplaceDelay:
		var c MarketplaceDelayCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
		}
		return c, nil
	case RuleSeasonalFactor:
		var c SeasonalCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case RulePaymentTerm:
		var c PaymentTermCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
		}
		return c, nil
	default:
		return nil, &ValidationError{Field: "ruleType", Reason: "unknown rule type", Value: t}
	}
}

// Rule is a tenant-scoped multiplicative confidence adjustment.
// Rules are never deleted, only deactivated.
type Rule struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        RuleType `json:"ruleType"`

	// Condition is nil when a stored payload could not be decoded.
	Condition Condition `json:"-"`

	AdjustmentFactor float64 `json:"adjustmentFactor"`
	Priority         int     `json:"priority"`
	IsActive         bool    `json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ruleAlias Rule

type ruleWire struct {
	*ruleAlias
	Condition json.RawMessage `json:"condition"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	var cond json.RawMessage = []byte("null")
	if r.Condition != nil {
		raw, err := json.Marshal(r.Condition)
		if err != nil {
			return nil, err
		}
		cond = raw
	}
	return json.Marshal(ruleWire{ruleAlias: (*ruleAlias)(&r), Condition: cond})
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	w := ruleWire{ruleAlias: (*ruleAlias)(r)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cond, err := DecodeCondition(r.Type, w.Condition)
	if err != nil {
		return err
	}
	r.Condition = cond
	return nil
}

// Validate checks a rule before it is stored.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if r.AdjustmentFactor <= 0 {
		return &ValidationError{Field: "adjustmentFactor", Reason: "must be positive", Value: r.AdjustmentFactor}
	}
	if r.Condition == nil {
		return &ValidationError{Field: "condition", Reason: "is required"}
	}
	if r.Condition.RuleType() != r.Type {
		return &ValidationError{Field: "condition", Reason: "does not match ruleType", Value: r.Type}
	}
	return r.Condition.Validate()
}

// RulePatch is a sparse update. Nil fields are left unchanged.
// Condition is decoded against the stored rule's type.
type RulePatch struct {
	Name             *string         `json:"name,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Condition        json.RawMessage `json:"condition,omitempty"`
	AdjustmentFactor *float64        `json:"adjustmentFactor,omitempty"`
	Priority         *int            `json:"priority,omitempty"`
	IsActive         *bool           `json:"isActive,omitempty"`
}

// Apply returns a copy of r with the patch applied and validated.
func (p RulePatch) Apply(r Rule) (Rule, error) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if len(p.Condition) > 0 {
		cond, err := DecodeCondition(r.Type, p.Condition)
		if err != nil {
			return r, err
		}
		r.Condition = cond
	}
	if p.AdjustmentFactor != nil {
		r.AdjustmentFactor = *p.AdjustmentFactor
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	return r, r.Validate()
}
