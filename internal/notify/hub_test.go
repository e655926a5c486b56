package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/rms/internal/domain"
	"github.com/vladislavdragonenkov/rms/internal/metrics"
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "notify-test")
}

func TestPublish_RegistrationOrder(t *testing.T) {
	hub := NewHub(WithLogger(quietLogger()))

	var calls []int
	for i := 1; i <= 3; i++ {
		n := i
		if _, err := hub.Subscribe(OrderAdded, func(Event) error {
			calls = append(calls, n)
			return nil
		}); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	hub.Publish(Event{Kind: OrderAdded})

	if len(calls) != 3 || calls[0] != 1 || calls[1] != 2 || calls[2] != 3 {
		t.Fatalf("unexpected call order: %v", calls)
	}
}

func TestPublish_OnlyMatchingKind(t *testing.T) {
	hub := NewHub(WithLogger(quietLogger()))

	var added, changed int
	_, _ = hub.Subscribe(OrderAdded, func(Event) error { added++; return nil })
	_, _ = hub.Subscribe(InventoryChanged, func(Event) error { changed++; return nil })

	hub.Publish(Event{Kind: InventoryChanged})

	if added != 0 || changed != 1 {
		t.Fatalf("added=%d changed=%d", added, changed)
	}
}

func TestPublish_IsolatesFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	hubMetrics := metrics.NewHubMetricsWithRegisterer(reg)
	hub := NewHub(WithLogger(quietLogger()), WithMetrics(hubMetrics))

	var reached []string
	_, _ = hub.Subscribe(OrderStatusChanged, func(Event) error {
		reached = append(reached, "error")
		return errors.New("view refresh failed")
	})
	_, _ = hub.Subscribe(OrderStatusChanged, func(Event) error {
		reached = append(reached, "panic")
		panic("observer bug")
	})
	_, _ = hub.Subscribe(OrderStatusChanged, func(e Event) error {
		reached = append(reached, "ok")
		if e.NewStatus != domain.OrderStatusAccepted {
			t.Errorf("unexpected payload: %+v", e)
		}
		return nil
	})

	hub.Publish(Event{Kind: OrderStatusChanged, OldStatus: domain.OrderStatusReceived, NewStatus: domain.OrderStatusAccepted})

	if len(reached) != 3 || reached[2] != "ok" {
		t.Fatalf("all handlers must run: %v", reached)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var failures float64
	for _, mf := range families {
		if mf.GetName() == "rms_hub_handler_failures_total" {
			for _, m := range mf.GetMetric() {
				failures += counterOf(m)
			}
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 recorded failures, got %v", failures)
	}
}

func counterOf(m *dto.Metric) float64 {
	return m.GetCounter().GetValue()
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	hub := NewHub(WithLogger(quietLogger()))

	var first, second int
	sub, _ := hub.Subscribe(OrderAdded, func(Event) error { first++; return nil })
	_, _ = hub.Subscribe(OrderAdded, func(Event) error { second++; return nil })

	sub.Unsubscribe()
	sub.Unsubscribe()

	hub.Publish(Event{Kind: OrderAdded})

	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d", first, second)
	}
	if got := hub.Subscribers(OrderAdded); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	// Нулевая подписка ничего не делает.
	Subscription{}.Unsubscribe()
}

func TestUnsubscribe_DuringPublish(t *testing.T) {
	hub := NewHub(WithLogger(quietLogger()))

	var sub Subscription
	var later int
	sub, _ = hub.Subscribe(OrderAdded, func(Event) error {
		sub.Unsubscribe()
		return nil
	})
	_, _ = hub.Subscribe(OrderAdded, func(Event) error { later++; return nil })

	hub.Publish(Event{Kind: OrderAdded})
	hub.Publish(Event{Kind: OrderAdded})

	if later != 2 {
		t.Fatalf("second handler should run on both publishes, ran %d", later)
	}
	if got := hub.Subscribers(OrderAdded); got != 1 {
		t.Fatalf("expected 1 subscriber left, got %d", got)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	hub := NewHub()

	if _, err := hub.Subscribe("order_deleted", func(Event) error { return nil }); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown kind, got %v", err)
	}
	if _, err := hub.Subscribe(OrderAdded, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil handler, got %v", err)
	}
}

func TestPublish_Concurrent(t *testing.T) {
	hub := NewHub(WithLogger(quietLogger()))

	var mu sync.Mutex
	count := 0
	_, _ = hub.Subscribe(InventoryChanged, func(Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Publish(Event{Kind: InventoryChanged})
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Fatalf("expected 20 deliveries, got %d", count)
	}
}
