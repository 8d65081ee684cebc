package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-credentials/core"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := &core.JobExecutionMessage{
		JobID:          core.JobIDEnsureSubscriptions,
		ScriptPath:     core.JobIDEnsureSubscriptions,
		Parameters:     map[string]any{"principal_id": "1337"},
		IdempotencyKey: core.JobIDEnsureSubscriptions + ":1337",
		DedupPolicy:    "drop",
	}

	roundTrip := FromExecutionMessage(ToExecutionMessage(original))
	if roundTrip.JobID != original.JobID || roundTrip.ScriptPath != original.ScriptPath {
		t.Fatalf("unexpected ids %+v", roundTrip)
	}
	if roundTrip.IdempotencyKey != original.IdempotencyKey || roundTrip.DedupPolicy != original.DedupPolicy {
		t.Fatalf("unexpected dedup fields %+v", roundTrip)
	}
	if roundTrip.Parameters["principal_id"] != "1337" {
		t.Fatalf("expected parameters to survive mapping")
	}
	original.Parameters["principal_id"] = "mutated"
	if roundTrip.Parameters["principal_id"] != "1337" {
		t.Fatalf("expected parameters to be copied")
	}
}

func TestEnqueuer_MapsMessage(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	adapter := NewEnqueuer(enqueuer)
	if err := adapter.Enqueue(context.Background(), &core.JobExecutionMessage{JobID: core.JobIDEnsureSubscriptions}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != core.JobIDEnsureSubscriptions {
		t.Fatalf("expected mapped go-job message, got %+v", enqueuer.last)
	}
	if err := adapter.Enqueue(context.Background(), nil); err == nil {
		t.Fatalf("expected nil message to fail")
	}
	if err := NewEnqueuer(nil).Enqueue(context.Background(), &core.JobExecutionMessage{}); err == nil {
		t.Fatalf("expected unconfigured enqueuer to fail")
	}
}

func TestRetryPolicy_NormalizeAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	early := policy.NormalizeAttempt(core.JobNackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if early.Delay != 10*time.Second || !early.Requeue || early.DeadLetter || early.Reason != "transient" {
		t.Fatalf("unexpected early attempt %+v", early)
	}

	last := policy.NormalizeAttempt(core.JobNackOptions{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %+v", last)
	}

	unbounded := RetryPolicy{}.NormalizeAttempt(core.JobNackOptions{Delay: -time.Second}, 10)
	if !unbounded.Requeue || unbounded.Delay != 0 {
		t.Fatalf("expected requeue with clamped delay, got %+v", unbounded)
	}
}

func TestDequeuer_CountsAttemptsPerIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	msg := &job.ExecutionMessage{JobID: core.JobIDEnsureSubscriptions, IdempotencyKey: "ensure:1337"}
	raw := &stubQueueDelivery{msg: msg}
	dequeuer := NewDequeuer(&stubQueueDequeuer{deliveries: []queue.Delivery{raw, raw, raw}}, RetryPolicy{MaxAttempts: 2, DeadLetterOnMax: true})

	first, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := first.Nack(ctx, core.JobNackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if !raw.nackOpts.Requeue {
		t.Fatalf("expected first attempt to requeue")
	}

	second, _ := dequeuer.Dequeue(ctx)
	if err := second.Nack(ctx, core.JobNackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if raw.nackOpts.Requeue || !raw.nackOpts.DeadLetter {
		t.Fatalf("expected second attempt to dead letter, got %+v", raw.nackOpts)
	}
	if dequeuer.pending() != 0 {
		t.Fatalf("expected dead-lettered key to be forgotten")
	}

	third, _ := dequeuer.Dequeue(ctx)
	if err := third.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !raw.acked || dequeuer.pending() != 0 {
		t.Fatalf("expected ack to settle the key")
	}
}

func TestWorkerHook_MapsEvents(t *testing.T) {
	startedAt := time.Now().UTC().Add(-time.Second)
	hook := &capturingHook{}
	adapter := NewWorkerHook(hook)

	adapter.OnRetry(context.Background(), worker.Event{
		Message:   &job.ExecutionMessage{JobID: core.JobIDEnsureSubscriptions},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: startedAt,
		Duration:  250 * time.Millisecond,
	})
	got := hook.last
	if got.Message == nil || got.Message.JobID != core.JobIDEnsureSubscriptions {
		t.Fatalf("expected message mapping, got %+v", got.Message)
	}
	if got.Attempt != 2 || got.Delay != 5*time.Second || got.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected event mapping %+v", got)
	}
	if !got.StartedAt.Equal(startedAt) || got.Err == nil || got.Err.Error() != "retry" {
		t.Fatalf("unexpected event mapping %+v", got)
	}

	var nilHook *WorkerHook
	nilHook.OnStart(context.Background(), worker.Event{})
}

func TestRunSubscriptionWorker_AcksEnsureJobs(t *testing.T) {
	svc, err := core.NewService(core.Config{ServiceName: "gojob-test"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close(context.Background()) }()

	raw := &stubQueueDelivery{msg: &job.ExecutionMessage{
		JobID:          core.JobIDEnsureSubscriptions,
		Parameters:     map[string]any{"principal_id": "1337"},
		IdempotencyKey: "ensure:1337",
	}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunSubscriptionWorker(ctx, svc, &stubQueueDequeuer{deliveries: []queue.Delivery{raw}}, DefaultRetryPolicy(), nil)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !raw.isAcked() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("timed out waiting for ack")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.last = msg
	return nil
}

// stubQueueDequeuer hands out deliveries in order, then blocks until the
// context is cancelled.
type stubQueueDequeuer struct {
	mu         sync.Mutex
	deliveries []queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	s.mu.Lock()
	if len(s.deliveries) > 0 {
		next := s.deliveries[0]
		s.deliveries = s.deliveries[1:]
		s.mu.Unlock()
		return next, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

type stubQueueDelivery struct {
	mu       sync.Mutex
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nackOpts = opts
	return nil
}

func (s *stubQueueDelivery) isAcked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}
