package core

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	TelemetryIndexAuthentication    = "authentication"
	TelemetryIndexErrors            = "errors"
	TelemetryIndexWebhooksCreated   = "webhooks/created"
	TelemetryIndexWebhooksTriggered = "webhooks/triggered"
	TelemetryIndexWebhooksRevoked   = "webhooks/revoked"
	defaultTelemetryBufferSize      = 256
)

// TelemetryEvent is a single analytics data point.
type TelemetryEvent struct {
	Index string
	Blobs []string
}

type TelemetrySink interface {
	Record(ctx context.Context, event TelemetryEvent)
}

type TelemetrySinkFunc func(ctx context.Context, event TelemetryEvent)

func (f TelemetrySinkFunc) Record(ctx context.Context, event TelemetryEvent) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type NopTelemetrySink struct{}

func (NopTelemetrySink) Record(context.Context, TelemetryEvent) {}

// LoggerTelemetrySink writes data points as structured log lines.
type LoggerTelemetrySink struct {
	Logger Logger
}

func (s LoggerTelemetrySink) Record(ctx context.Context, event TelemetryEvent) {
	if s.Logger == nil {
		return
	}
	logger := s.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Info("telemetry", "index", event.Index, "blobs", strings.Join(event.Blobs, "|"))
}

// AsyncTelemetry hands events to a sink on a background goroutine and drops
// them when the buffer is full.
type AsyncTelemetry struct {
	sink    TelemetrySink
	events  chan TelemetryEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsyncTelemetry(sink TelemetrySink, bufferSize int) *AsyncTelemetry {
	if sink == nil {
		sink = NopTelemetrySink{}
	}
	if bufferSize <= 0 {
		bufferSize = defaultTelemetryBufferSize
	}
	t := &AsyncTelemetry{
		sink:   sink,
		events: make(chan TelemetryEvent, bufferSize),
		done:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *AsyncTelemetry) Emit(index string, blobs ...string) {
	if t == nil {
		return
	}
	event := TelemetryEvent{Index: strings.TrimSpace(index), Blobs: append([]string(nil), blobs...)}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.dropped.Add(1)
		return
	}
	select {
	case t.events <- event:
	default:
		t.dropped.Add(1)
	}
}

func (t *AsyncTelemetry) Dropped() int64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be recorded.
func (t *AsyncTelemetry) Close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.events)
		t.mu.Unlock()
	})
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *AsyncTelemetry) loop() {
	defer close(t.done)
	for event := range t.events {
		t.record(event)
	}
}

func (t *AsyncTelemetry) record(event TelemetryEvent) {
	defer func() {
		_ = recover()
	}()
	t.sink.Record(context.Background(), event)
}
