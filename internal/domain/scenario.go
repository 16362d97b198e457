package domain

// Scenario is a global adjustment preset applied uniformly to a forecast run.
// Adjustments are percentages.
type Scenario struct {
	Name              string  `json:"name"`
	InflowAdjustment  float64 `json:"inflowAdjustment"`
	OutflowAdjustment float64 `json:"outflowAdjustment"`
	DelayDays         int     `json:"delayDays"`
}

var (
	Pessimistic = Scenario{Name: "pessimistic", InflowAdjustment: -20, OutflowAdjustment: 10, DelayDays: 7}
	Realistic   = Scenario{Name: "realistic"}
	Optimistic  = Scenario{Name: "optimistic", InflowAdjustment: 15, OutflowAdjustment: -10, DelayDays: -3}
)

// Scenarios returns the presets in comparison order.
func Scenarios() []Scenario {
	return []Scenario{Pessimistic, Realistic, Optimistic}
}

// ScenarioByName resolves a preset by name.
func ScenarioByName(name string) (Scenario, error) {
	for _, s := range Scenarios() {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, &ValidationError{Field: "scenario", Reason: "must be pessimistic, realistic or optimistic", Value: name}
}

// Multiplier is the confidence multiplier the scenario applies to a flow.
func (s Scenario) Multiplier(t FlowType) float64 {
	if t == FlowInflow {
		return 1 + s.InflowAdjustment/100
	}
	return 1 + s.OutflowAdjustment/100
}
