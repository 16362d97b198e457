package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

type fakeForecaster struct {
	mu       sync.Mutex
	trained  []domain.TrainJob
	forecast []domain.ForecastJob
	days     []domain.PredictionResult
	err      error
}

func (f *fakeForecaster) Train(ctx context.Context, tenantID, branchID string, force bool) (*domain.ModelMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.trained = append(f.trained, domain.TrainJob{TenantID: tenantID, BranchID: branchID, Force: force})
	return &domain.ModelMetrics{TenantID: tenantID, BranchID: branchID, DataPoints: 150, AccuracyScore: 91}, nil
}

func (f *fakeForecaster) Predict(ctx context.Context, tenantID, branchID string, horizon int, scenario string) ([]domain.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.forecast = append(f.forecast, domain.ForecastJob{TenantID: tenantID, BranchID: branchID, HorizonDays: horizon, Scenario: scenario})
	return f.days, nil
}

func (f *fakeForecaster) jobs() ([]domain.TrainJob, []domain.ForecastJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TrainJob(nil), f.trained...), append([]domain.ForecastJob(nil), f.forecast...)
}

func days(levels ...domain.RiskLevel) []domain.PredictionResult {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	out := make([]domain.PredictionResult, len(levels))
	for i, l := range levels {
		out[i] = domain.PredictionResult{Date: start.AddDate(0, 0, i), PredictedBalance: float64(1000 - 400*i), RiskLevel: l}
	}
	return out
}

// capture subscribes to a result topic and collects payloads.
func capture(t *testing.T, b domain.EventBus, tenantID, topic string) (<-chan []byte, func()) {
	t.Helper()
	ch := make(chan []byte, 10)
	sub, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch, func() { sub.Unsubscribe() }
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for result")
		return nil
	}
}

func publishJob(t *testing.T, b domain.EventBus, tenantID, topic string, job any) {
	t.Helper()
	payload, _ := json.Marshal(job)
	if err := b.Publish(context.Background(), tenantID, topic, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeForecaster{})
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeForecaster{})
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("SkipsOtherTenants", func(t *testing.T) {
		fc := &fakeForecaster{}
		w := NewWorker(eventBus, fc)
		w.Start(Config{TenantIDs: []string{"tenant-a"}})
		defer w.Stop()

		results, cancel := capture(t, eventBus, "tenant-a", domain.TopicModelTrained)
		defer cancel()

		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicTrainRequested, domain.TrainJob{TenantID: "tenant-z"})
		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicTrainRequested, domain.TrainJob{TenantID: "tenant-a"})
		receive(t, results)

		trained, _ := fc.jobs()
		if len(trained) != 1 || trained[0].TenantID != "tenant-a" {
			t.Errorf("expected only tenant-a to train, got %+v", trained)
		}
	})

	t.Run("GlobalTrainJob", func(t *testing.T) {
		fc := &fakeForecaster{}
		w := NewWorker(eventBus, fc)
		w.Start(Config{})
		defer w.Stop()

		results, cancel := capture(t, eventBus, "acme", domain.TopicModelTrained)
		defer cancel()

		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicTrainRequested,
			domain.TrainJob{TenantID: "acme", BranchID: "ist-01", Force: true})

		var metrics domain.ModelMetrics
		if err := json.Unmarshal(receive(t, results), &metrics); err != nil {
			t.Fatalf("bad result payload: %v", err)
		}
		if metrics.TenantID != "acme" || metrics.DataPoints != 150 {
			t.Errorf("unexpected metrics %+v", metrics)
		}

		trained, _ := fc.jobs()
		if len(trained) != 1 || !trained[0].Force || trained[0].BranchID != "ist-01" {
			t.Errorf("unexpected train calls %+v", trained)
		}
	})

	t.Run("ForecastJobDefaults", func(t *testing.T) {
		fc := &fakeForecaster{days: days(domain.RiskLow, domain.RiskMedium)}
		w := NewWorker(eventBus, fc)
		w.Start(Config{TenantIDs: []string{"tenant-fc"}, HorizonDays: 14})
		defer w.Stop()

		completed, cancel := capture(t, eventBus, "tenant-fc", domain.TopicForecastCompleted)
		defer cancel()

		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicForecastRequested, domain.ForecastJob{TenantID: "tenant-fc"})

		var event domain.ForecastEvent
		if err := json.Unmarshal(receive(t, completed), &event); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		if event.TenantID != "tenant-fc" || event.Scenario != "realistic" || event.HorizonDays != 14 {
			t.Errorf("unexpected event %+v", event)
		}
		if event.FinalBalance != 600 || event.MinBalance != 600 {
			t.Errorf("unexpected balances %+v", event)
		}
		if len(event.CriticalDays) != 0 {
			t.Errorf("expected no critical days, got %v", event.CriticalDays)
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		fc := &fakeForecaster{days: days(domain.RiskLow, domain.RiskHigh, domain.RiskCritical, domain.RiskCritical)}
		w := NewWorker(eventBus, fc)
		w.Start(Config{TenantIDs: []string{"tenant-alert"}})
		defer w.Stop()

		alerts, cancel := capture(t, eventBus, "tenant-alert", domain.TopicRiskAlert)
		defer cancel()

		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicForecastRequested,
			domain.ForecastJob{TenantID: "tenant-alert", Scenario: "pessimistic", HorizonDays: 30})

		var event domain.ForecastEvent
		if err := json.Unmarshal(receive(t, alerts), &event); err != nil {
			t.Fatalf("bad alert payload: %v", err)
		}
		if len(event.CriticalDays) != 2 {
			t.Errorf("expected 2 critical days, got %d", len(event.CriticalDays))
		}
		if event.MinBalance != -200 {
			t.Errorf("expected min balance -200, got %v", event.MinBalance)
		}
	})

	t.Run("FailedJobPublishesNothing", func(t *testing.T) {
		fc := &fakeForecaster{err: errors.New("database is down")}
		w := NewWorker(eventBus, fc)
		w.Start(Config{TenantIDs: []string{"tenant-err"}})
		defer w.Stop()

		completed, cancel := capture(t, eventBus, "tenant-err", domain.TopicForecastCompleted)
		defer cancel()

		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicForecastRequested, domain.ForecastJob{TenantID: "tenant-err"})

		select {
		case <-completed:
			t.Error("failed jobs must not publish a result")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestAccepts(t *testing.T) {
	w := NewWorker(nil, &fakeForecaster{})
	if ok, _ := w.accepts("acme"); !ok {
		t.Error("an unrestricted worker accepts every tenant")
	}
	var verr *domain.ValidationError
	if _, err := w.accepts(""); !errors.As(err, &verr) {
		t.Errorf("expected validation error, got %v", err)
	}

	w.tenants = map[string]bool{"acme": true}
	if ok, err := w.accepts("globex"); ok || err != nil {
		t.Errorf("expected globex to be skipped, got %v %v", ok, err)
	}
}

func TestQueueGroupRunsEachJobOnce(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	first, second := &fakeForecaster{}, &fakeForecaster{}
	for _, fc := range []*fakeForecaster{first, second} {
		w := NewWorker(eventBus, fc)
		if err := w.Start(Config{QueueGroup: "kestrel-workers"}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()
	}

	results, cancel := capture(t, eventBus, "acme", domain.TopicModelTrained)
	defer cancel()

	const jobs = 6
	for i := 0; i < jobs; i++ {
		publishJob(t, eventBus, domain.GlobalTenantID, domain.TopicTrainRequested, domain.TrainJob{TenantID: "acme"})
	}
	for i := 0; i < jobs; i++ {
		receive(t, results)
	}

	a, _ := first.jobs()
	b, _ := second.jobs()
	if len(a)+len(b) != jobs {
		t.Errorf("expected %d training runs in total, got %d and %d", jobs, len(a), len(b))
	}
	if len(a) == 0 || len(b) == 0 {
		t.Errorf("expected both workers to take jobs, got %d and %d", len(a), len(b))
	}
}
