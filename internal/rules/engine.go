// Package rules provides the CEL-Go based confidence adjustment engine.
package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scope selects which rule types take part in an evaluation.
type Scope int

const (
	// ScopeLive is the forecast confidence path: marketplace delay and
	// seasonal rules only.
	ScopeLive Scope = iota

	// ScopeImpact also evaluates payment-term rules.
	ScopeImpact
)

// Includes reports whether a rule type is evaluated under the scope.
func (s Scope) Includes(t domain.RuleType) bool {
	switch t {
	case domain.RuleMarketplaceDelay, domain.RuleSeasonalFactor:
		return true
	case domain.RulePaymentTerm:
		return s == ScopeImpact
	default:
		return false
	}
}

// conditionExpressions is the match predicate for each rule type.
// Transaction fields and the rule's condition fields are bound as variables.
var conditionExpressions = map[domain.RuleType]string{
	domain.RuleMarketplaceDelay: `source_module == "marketplace" && reference_no.startsWith(marketplace_prefix)`,
	domain.RuleSeasonalFactor:   `expected_day >= start_day && expected_day <= end_day`,
	domain.RulePaymentTerm:      `has_payment_term && payment_term_days >= term_days`,
}

// Engine matches rules against transactions. Programs are compiled once in
// NewEngine and never change, so an Engine is safe for concurrent use.
type Engine struct {
	programs map[domain.RuleType]cel.Program
}

// Outcome records what one rule did to one transaction.
type Outcome struct {
	RuleID  string          `json:"ruleId"`
	Type    domain.RuleType `json:"ruleType"`
	Matched bool            `json:"matched"`
	Factor  float64         `json:"factor"`
	Err     error           `json:"-"`
}

// NewEngine compiles the condition program for every rule type.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("source_module", cel.StringType),
		cel.Variable("reference_no", cel.StringType),
		cel.Variable("expected_day", cel.IntType),
		cel.Variable("has_payment_term", cel.BoolType),
		cel.Variable("payment_term_days", cel.IntType),
		cel.Variable("marketplace_prefix", cel.StringType),
		cel.Variable("start_day", cel.IntType),
		cel.Variable("end_day", cel.IntType),
		cel.Variable("term_days", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs := make(map[domain.RuleType]cel.Program, len(conditionExpressions))
	for ruleType, expr := range conditionExpressions {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile %s condition: %w", ruleType, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("%s condition must return bool, got %s", ruleType, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for %s: %w", ruleType, err)
		}
		programs[ruleType] = program
	}

	return &Engine{programs: programs}, nil
}

// Matches reports whether the rule's condition holds for the transaction.
// Faults never panic out of Matches.
func (e *Engine) Matches(rule *domain.Rule, tx *domain.Transaction) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, err = false, fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()

	if rule.Condition == nil {
		return false, fmt.Errorf("rule %s: %w", rule.ID, domain.ErrMalformedCondition)
	}
	if rule.Condition.RuleType() != rule.Type {
		return false, fmt.Errorf("rule %s: %s condition on %s rule: %w",
			rule.ID, rule.Condition.RuleType(), rule.Type, domain.ErrMalformedCondition)
	}

	program, ok := e.programs[rule.Type]
	if !ok {
		return false, fmt.Errorf("rule %s: unknown rule type %q", rule.ID, rule.Type)
	}

	out, _, err := program.Eval(activation(tx, rule.Condition))
	if err != nil {
		return false, fmt.Errorf("rule %s: evaluation error: %w", rule.ID, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %s: condition returned %s", rule.ID, out.Type().TypeName())
	}
	return bool(b), nil
}

// Apply multiplies confidence by the factor of every matching rule in scope.
// Rules are visited by priority, highest first; all matches apply. A faulty
// rule is logged and skipped without affecting the others.
func (e *Engine) Apply(rules []*domain.Rule, tx *domain.Transaction, confidence float64, scope Scope) (float64, []Outcome) {
	ordered := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.IsActive && scope.Includes(r.Type) {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	outcomes := make([]Outcome, 0, len(ordered))
	for _, rule := range ordered {
		outcome := Outcome{RuleID: rule.ID, Type: rule.Type, Factor: 1}

		matched, err := e.Matches(rule, tx)
		if err == nil && matched && rule.AdjustmentFactor <= 0 {
			err = fmt.Errorf("rule %s: adjustment factor %v is not positive", rule.ID, rule.AdjustmentFactor)
		}
		if err != nil {
			outcome.Err = err
			slog.Error("rule evaluation failed",
				"rule_id", rule.ID,
				"rule_type", rule.Type,
				"tenant_id", rule.TenantID,
				"tx_id", tx.ID,
				"error", err,
			)
			outcomes = append(outcomes, outcome)
			continue
		}

		if matched {
			outcome.Matched = true
			outcome.Factor = rule.AdjustmentFactor
			confidence *= rule.AdjustmentFactor
		}
		outcomes = append(outcomes, outcome)
	}

	return confidence, outcomes
}

// activation binds the transaction and condition fields to CEL variables.
func activation(tx *domain.Transaction, cond domain.Condition) map[string]any {
	vars := map[string]any{
		"source_module":      string(tx.SourceModule),
		"reference_no":       tx.ReferenceNo,
		"expected_day":       epochDay(tx.ExpectedDate),
		"has_payment_term":   tx.PaymentTermDays != nil,
		"payment_term_days":  int64(0),
		"marketplace_prefix": "",
		"start_day":          int64(0),
		"end_day":            int64(0),
		"term_days":          int64(0),
	}
	if tx.PaymentTermDays != nil {
		vars["payment_term_days"] = int64(*tx.PaymentTermDays)
	}

	switch c := cond.(type) {
	case domain.MarketplaceDelayCondition:
		vars["marketplace_prefix"] = c.Prefix
	case domain.SeasonalCondition:
		vars["start_day"] = epochDay(c.Start)
		vars["end_day"] = epochDay(c.End)
	case domain.PaymentTermCondition:
		vars["term_days"] = int64(c.TermDays)
	}
	return vars
}

func epochDay(t time.Time) int64 {
	return domain.Day(t).Unix() / 86400
}
