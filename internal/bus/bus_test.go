package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.GlobalTenantID, domain.TopicTrainRequested, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		payload := []byte(`{"tenantId":"tenant-001","force":true}`)
		if err := bus.Publish(ctx, domain.GlobalTenantID, domain.TopicTrainRequested, payload); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg, time.Second)

		if string(receivedMsg.Payload) != string(payload) {
			t.Errorf("expected payload %s, got %s", payload, receivedMsg.Payload)
		}
		if receivedMsg.TenantID != domain.GlobalTenantID {
			t.Errorf("expected tenantID %q, got %q", domain.GlobalTenantID, receivedMsg.TenantID)
		}
		if receivedMsg.ID == "" || receivedMsg.Timestamp == 0 {
			t.Error("expected message id and timestamp to be set")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, "tenant-001", domain.TopicForecastCompleted, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", domain.TopicForecastCompleted, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", domain.TopicForecastCompleted, []byte("msg1"))
		waitFor(t, &wg, time.Second)
		time.Sleep(20 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant-001 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant-002 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			wg.Done()
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		waitFor(t, &wg, time.Second)

		sub.Unsubscribe()

		bus.mu.RLock()
		_, still := bus.routes[route{tenantID, "unsub.topic"}]
		bus.mu.RUnlock()
		if still {
			t.Error("expected subscription to be removed from the bus")
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		bus.Subscribe(ctx, tenantID, domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, tenantID, domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			wg.Done()
			return nil
		})

		bus.Publish(ctx, tenantID, domain.TopicRiskAlert, []byte("broadcast"))
		waitFor(t, &wg, time.Second)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("HandlerErrorDoesNotStopDelivery", func(t *testing.T) {
		var calls atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		bus.Subscribe(ctx, tenantID, "flaky.topic", func(ctx context.Context, msg *domain.Message) error {
			calls.Add(1)
			wg.Done()
			return errors.New("boom")
		})

		bus.Publish(ctx, tenantID, "flaky.topic", []byte("1"))
		bus.Publish(ctx, tenantID, "flaky.topic", []byte("2"))
		waitFor(t, &wg, time.Second)

		if calls.Load() != 2 {
			t.Errorf("expected 2 deliveries, got %d", calls.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicModelTrained, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != domain.TopicModelTrained {
			t.Errorf("expected topic %q, got %q", domain.TopicModelTrained, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)

	ctx := context.Background()
	tenantID := "tenant-001"

	bus.Subscribe(ctx, tenantID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, tenantID, "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	_, err := bus.Subscribe(ctx, tenantID, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	if err == nil {
		t.Error("expected subscribe error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubject(t *testing.T) {
	cases := map[string]string{
		"acme":                "kestrel.forecast.request.acme",
		domain.GlobalTenantID: "kestrel.forecast.request._global",
		"acme.eu":             "kestrel.forecast.request.acme%2Eeu",
		"a*b>c":               "kestrel.forecast.request.a%2Ab%3Ec",
		"50% off":             "kestrel.forecast.request.50%25%20off",
	}
	for tenant, want := range cases {
		if got := subject(tenant, domain.TopicForecastRequested); got != want {
			t.Errorf("subject(%q) = %q, want %q", tenant, got, want)
		}
	}
}

func TestQueueSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("EachJobRunsOnce", func(t *testing.T) {
		b := NewChannelBus(100)
		defer b.Close()

		const jobs = 20
		var first, second atomic.Int32
		var wg sync.WaitGroup
		wg.Add(jobs)

		for _, counter := range []*atomic.Int32{&first, &second} {
			counter := counter
			_, err := b.QueueSubscribe(ctx, domain.GlobalTenantID, domain.TopicTrainRequested, "workers", func(ctx context.Context, msg *domain.Message) error {
				counter.Add(1)
				wg.Done()
				return nil
			})
			if err != nil {
				t.Fatalf("queue subscribe failed: %v", err)
			}
		}

		for i := 0; i < jobs; i++ {
			if err := b.Publish(ctx, domain.GlobalTenantID, domain.TopicTrainRequested, []byte("{}")); err != nil {
				t.Fatalf("publish failed: %v", err)
			}
		}
		waitFor(t, &wg, 2*time.Second)
		time.Sleep(20 * time.Millisecond)

		if total := first.Load() + second.Load(); total != jobs {
			t.Errorf("expected %d deliveries, got %d", jobs, total)
		}
		if first.Load() == 0 || second.Load() == 0 {
			t.Errorf("expected both members to share jobs, got %d and %d", first.Load(), second.Load())
		}
	})

	t.Run("PlainSubscribersStillSeeEverything", func(t *testing.T) {
		b := NewChannelBus(100)
		defer b.Close()

		var grouped, watcher atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		b.QueueSubscribe(ctx, "acme", domain.TopicRiskAlert, "notifiers", func(ctx context.Context, msg *domain.Message) error {
			grouped.Add(1)
			wg.Done()
			return nil
		})
		b.Subscribe(ctx, "acme", domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			watcher.Add(1)
			wg.Done()
			return nil
		})

		b.Publish(ctx, "acme", domain.TopicRiskAlert, []byte("{}"))
		waitFor(t, &wg, time.Second)

		if grouped.Load() != 1 || watcher.Load() != 1 {
			t.Errorf("expected one delivery each, got %d and %d", grouped.Load(), watcher.Load())
		}
	})
}

func TestPublishJSON(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var got domain.TrainJob
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(ctx, domain.GlobalTenantID, domain.TopicTrainRequested, func(ctx context.Context, msg *domain.Message) error {
		defer wg.Done()
		return json.Unmarshal(msg.Payload, &got)
	})

	job := domain.TrainJob{TenantID: "acme", BranchID: "ist-01", Force: true}
	if err := PublishJSON(ctx, b, domain.GlobalTenantID, domain.TopicTrainRequested, job); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	waitFor(t, &wg, time.Second)
	if got != job {
		t.Errorf("expected %+v, got %+v", job, got)
	}

	if err := PublishJSON(ctx, b, "acme", "bad", make(chan int)); err == nil {
		t.Error("expected an encode error")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-load"

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, tenantID, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, tenantID, "load.topic", []byte("msg"))
	}

	waitFor(t, &wg, 5*time.Second)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}
