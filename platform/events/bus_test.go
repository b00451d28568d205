package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"leadengine/platform/logger"
)

type pinged struct {
	BaseEvent
	N int
}

func (pinged) EventName() string { return "test.pinged" }

func TestPublishRunsEveryHandler(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))
	var calls atomic.Int32
	for range 3 {
		bus.Subscribe("test.pinged", HandlerFunc(func(ctx context.Context, ev Event) error {
			if ev.(pinged).N != 7 {
				t.Errorf("unexpected payload %+v", ev)
			}
			calls.Add(1)
			return nil
		}))
	}
	bus.Subscribe("other", HandlerFunc(func(context.Context, Event) error {
		t.Error("handler for another event ran")
		return nil
	}))

	bus.Publish(context.Background(), pinged{BaseEvent: BaseEvent{Timestamp: time.Now()}, N: 7})
	bus.Wait()

	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestPublishSurvivesFailingHandlers(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))
	var ran atomic.Bool
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error {
		return errors.New("failed")
	}))
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error {
		ran.Store(true)
		return nil
	}))

	bus.Publish(context.Background(), pinged{})
	bus.Wait()

	if !ran.Load() {
		t.Fatal("expected the healthy handler to run")
	}
}

func TestPublishDetachesCancellation(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))
	var sawErr atomic.Bool
	bus.Subscribe("test.pinged", HandlerFunc(func(ctx context.Context, _ Event) error {
		sawErr.Store(ctx.Err() != nil)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, pinged{})
	bus.Wait()

	if sawErr.Load() {
		t.Fatal("expected handler context to outlive the publisher")
	}
}

func TestPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.New("test"))
	first := errors.New("first")
	second := errors.New("second")
	var order []int
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error {
		order = append(order, 1)
		return first
	}))
	bus.Subscribe("test.pinged", HandlerFunc(func(context.Context, Event) error {
		order = append(order, 2)
		return second
	}))

	err := bus.PublishSync(context.Background(), pinged{})
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both errors, got %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected handlers in order, got %v", order)
	}
	if err := bus.PublishSync(context.Background(), pinged{}); err == nil {
		t.Fatal("expected errors on the second publish too")
	}
	if err := NewInMemoryBus(logger.New("test")).PublishSync(context.Background(), pinged{}); err != nil {
		t.Fatalf("expected nil without handlers, got %v", err)
	}
}
