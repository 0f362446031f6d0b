package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"agentcore/internal/domain"
)

func benchEvent() domain.Event {
	return domain.Event{
		Type:    domain.EventTaskCompleted,
		TaskID:  "task-bench",
		AgentID: "agent-bench",
		Result:  &domain.Result{Success: true, Status: domain.StatusCompleted},
	}
}

func benchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// BenchmarkPublishAsync measures the default goroutine-per-handler dispatch.
func BenchmarkPublishAsync(b *testing.B) {
	bus := New(benchLogger())
	ctx := context.Background()
	event := benchEvent()
	bus.Subscribe(domain.EventTaskCompleted, func(context.Context, domain.Event) {})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

// BenchmarkPublishOrdered measures inline dispatch with the Manager's
// forwarding fan-out of one typed and one all-events subscriber.
func BenchmarkPublishOrdered(b *testing.B) {
	bus := New(benchLogger(), WithOrderedDispatch())
	ctx := context.Background()
	event := benchEvent()
	bus.Subscribe(domain.EventTaskCompleted, func(context.Context, domain.Event) {})
	bus.SubscribeAll(func(context.Context, domain.Event) {})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

// BenchmarkPublishNoSubscribers measures the overhead of Publish itself.
func BenchmarkPublishNoSubscribers(b *testing.B) {
	bus := New(benchLogger())
	ctx := context.Background()
	event := benchEvent()

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

// BenchmarkPublishParallel measures concurrent publishers, as with several
// tasks finishing at once.
func BenchmarkPublishParallel(b *testing.B) {
	bus := New(benchLogger(), WithOrderedDispatch())
	event := benchEvent()
	bus.Subscribe(domain.EventTaskCompleted, func(context.Context, domain.Event) {})

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			bus.Publish(ctx, event)
		}
	})
	bus.Close()
}

// BenchmarkSubscribeUnsubscribe measures the subscription round trip.
func BenchmarkSubscribeUnsubscribe(b *testing.B) {
	bus := New(benchLogger())
	handler := func(context.Context, domain.Event) {}

	b.ReportAllocs()
	for b.Loop() {
		unsub := bus.Subscribe(domain.EventTaskQueued, handler)
		unsub()
	}
}
