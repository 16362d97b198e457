package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// DefaultMarketplaceFactor is applied when a marketplace rule is created
	// without an explicit factor.
	DefaultMarketplaceFactor = 0.85

	// DefaultImpactSample is how many pending items an impact estimate reads.
	DefaultImpactSample = 100

	marketplacePriority = 10
	seasonalPriority    = 5
	paymentTermPriority = 3
)

// Service manages a tenant's rule set and estimates rule impact.
type Service struct {
	repo         domain.Repository
	engine       *Engine
	impactSample int
	now          func() time.Time
}

// NewService creates a rule service. A non-positive impactSample uses
// DefaultImpactSample.
func NewService(repo domain.Repository, engine *Engine, impactSample int) *Service {
	if impactSample <= 0 {
		impactSample = DefaultImpactSample
	}
	return &Service{
		repo:         repo,
		engine:       engine,
		impactSample: impactSample,
		now:          time.Now,
	}
}

// Create validates and stores a new active rule and returns it with its id.
func (s *Service) Create(ctx context.Context, tenantID string, rule *domain.Rule) (*domain.Rule, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	stored := *rule
	stored.ID = uuid.New().String()
	stored.TenantID = tenantID
	stored.IsActive = true
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := s.repo.SaveRule(ctx, tenantID, &stored); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	slog.Info("rule created",
		"tenant_id", tenantID,
		"rule_id", stored.ID,
		"rule_type", stored.Type,
		"adjustment_factor", stored.AdjustmentFactor,
		"priority", stored.Priority,
	)
	return &stored, nil
}

// CreateMarketplaceDelayRule creates a rule for a marketplace whose payouts
// settle delayDays late. A nil factor uses DefaultMarketplaceFactor; an
// explicit value goes through Validate unchanged.
func (s *Service) CreateMarketplaceDelayRule(ctx context.Context, tenantID, marketplace string, delayDays int, factor *float64) (*domain.Rule, error) {
	if strings.TrimSpace(marketplace) == "" {
		return nil, &domain.ValidationError{Field: "marketplaceName", Reason: "is required"}
	}
	adjustment := DefaultMarketplaceFactor
	if factor != nil {
		adjustment = *factor
	}
	return s.Create(ctx, tenantID, &domain.Rule{
		Name:        marketplace + " Payment Delay",
		Description: fmt.Sprintf("%s payments settle on average %d days late", marketplace, delayDays),
		Type:        domain.RuleMarketplaceDelay,
		Condition: domain.MarketplaceDelayCondition{
			Prefix:    MarketplacePrefix(marketplace),
			DelayDays: delayDays,
		},
		AdjustmentFactor: adjustment,
		Priority:         marketplacePriority,
	})
}

// CreateSeasonalRule creates a rule for items expected inside [start, end].
func (s *Service) CreateSeasonalRule(ctx context.Context, tenantID, name string, start, end time.Time, factor float64, description string) (*domain.Rule, error) {
	if description == "" {
		description = fmt.Sprintf("%s - %s special period", start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}
	return s.Create(ctx, tenantID, &domain.Rule{
		Name:             name,
		Description:      description,
		Type:             domain.RuleSeasonalFactor,
		Condition:        domain.SeasonalCondition{Start: domain.Day(start), End: domain.Day(end)},
		AdjustmentFactor: factor,
		Priority:         seasonalPriority,
	})
}

// CreatePaymentTermRule creates a rule for items with long payment terms.
func (s *Service) CreatePaymentTermRule(ctx context.Context, tenantID string, termDays int, factor float64) (*domain.Rule, error) {
	return s.Create(ctx, tenantID, &domain.Rule{
		Name:             fmt.Sprintf("%d+ day term payments", termDays),
		Description:      fmt.Sprintf("risk adjustment for payments with terms of %d days or more", termDays),
		Type:             domain.RulePaymentTerm,
		Condition:        domain.PaymentTermCondition{TermDays: termDays},
		AdjustmentFactor: factor,
		Priority:         paymentTermPriority,
	})
}

// ListActive returns the tenant's active rules, highest priority first.
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	rules, err := s.repo.ListActiveRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// Update applies a sparse patch to a stored rule.
func (s *Service) Update(ctx context.Context, tenantID, ruleID string, patch domain.RulePatch) (*domain.Rule, error) {
	current, err := s.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	updated, err := patch.Apply(*current)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateRule(ctx, tenantID, &updated); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	slog.Info("rule updated", "tenant_id", tenantID, "rule_id", ruleID)
	return &updated, nil
}

// Deactivate marks a rule inactive. Deactivating an inactive rule is not an
// error; the row is kept.
func (s *Service) Deactivate(ctx context.Context, tenantID, ruleID string) error {
	if err := s.repo.DeactivateRule(ctx, tenantID, ruleID); err != nil {
		return err
	}
	slog.Info("rule deactivated", "tenant_id", tenantID, "rule_id", ruleID)
	return nil
}

// Impact summarizes how a rule would change the confidence of pending items.
type Impact struct {
	AffectedTransactions int     `json:"affectedTransactions"`
	TotalTransactions    int     `json:"totalTransactions"`
	ImpactPercentage     float64 `json:"impactPercentage"`
	AverageAdjustment    float64 `json:"averageAdjustment"`
}

// EstimateImpact evaluates rule against the tenant's earliest pending items.
// The rule need not be stored; payment-term rules are evaluated here.
func (s *Service) EstimateImpact(ctx context.Context, tenantID string, rule *domain.Rule) (*Impact, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	sample, err := s.repo.ListPendingSample(ctx, tenantID, s.impactSample)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending sample: %w", err)
	}

	candidate := *rule
	candidate.IsActive = true
	set := []*domain.Rule{&candidate}

	impact := &Impact{TotalTransactions: len(sample)}
	var totalChange float64
	for _, tx := range sample {
		original := tx.Baseline()
		adjusted, outcomes := s.engine.Apply(set, tx, original, ScopeImpact)
		if len(outcomes) == 0 || !outcomes[0].Matched {
			continue
		}
		impact.AffectedTransactions++
		totalChange += math.Abs(adjusted - original)
	}

	if impact.TotalTransactions > 0 {
		impact.ImpactPercentage = 100 * float64(impact.AffectedTransactions) / float64(impact.TotalTransactions)
	}
	if impact.AffectedTransactions > 0 {
		impact.AverageAdjustment = totalChange / float64(impact.AffectedTransactions)
	}
	return impact, nil
}

// MarketplacePrefix is the reference prefix derived from a marketplace name:
// its first three characters, upper-cased.
func MarketplacePrefix(marketplace string) string {
	r := []rune(strings.TrimSpace(marketplace))
	if len(r) > 3 {
		r = r[:3]
	}
	return strings.ToUpper(string(r))
}
