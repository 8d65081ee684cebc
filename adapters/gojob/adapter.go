package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-credentials/core"
)

// RetryPolicy bounds how often and how late an ensure job is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: time.Minute, DeadLetterOnMax: true}
}

func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParameters(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// Enqueuer lets the credential service hand ensure-subscription work to a
// go-job queue instead of running it in process.
type Enqueuer struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuer(enqueuer queue.Enqueuer) *Enqueuer {
	return &Enqueuer{enqueuer: enqueuer}
}

func (a *Enqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// Delivery counts nacks so the retry policy can cap redelivery of the same
// delivery handle.
type Delivery struct {
	delivery queue.Delivery
	policy   RetryPolicy
	attempt  int
	settled  func()
}

func NewDelivery(delivery queue.Delivery, policy RetryPolicy, attempt int) *Delivery {
	if attempt <= 0 {
		attempt = 1
	}
	return &Delivery{delivery: delivery, policy: policy, attempt: attempt}
}

func (d *Delivery) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	if err := d.delivery.Ack(ctx); err != nil {
		return err
	}
	d.settle()
	return nil
}

func (d *Delivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, d.attempt)
	if err := d.delivery.Nack(ctx, queue.NackOptions{
		Delay:      normalized.Delay,
		Requeue:    normalized.Requeue,
		DeadLetter: normalized.DeadLetter,
		Reason:     normalized.Reason,
	}); err != nil {
		return err
	}
	if !normalized.Requeue {
		d.settle()
	}
	return nil
}

func (d *Delivery) settle() {
	if d.settled != nil {
		d.settled()
	}
}

// Dequeuer tracks attempts per idempotency key across redeliveries. A key
// is forgotten once its delivery is acked or dead-lettered.
type Dequeuer struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy

	mu       sync.Mutex
	attempts map[string]int
}

func NewDequeuer(dequeuer queue.Dequeuer, policy RetryPolicy) *Dequeuer {
	return &Dequeuer{dequeuer: dequeuer, policy: policy, attempts: map[string]int{}}
}

func (a *Dequeuer) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil || delivery == nil {
		return nil, err
	}
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.IdempotencyKey) == "" {
		return NewDelivery(delivery, a.policy, 1), nil
	}
	key := msg.IdempotencyKey
	a.mu.Lock()
	a.attempts[key]++
	attempt := a.attempts[key]
	a.mu.Unlock()

	out := NewDelivery(delivery, a.policy, attempt)
	out.settled = func() {
		a.mu.Lock()
		delete(a.attempts, key)
		a.mu.Unlock()
	}
	return out, nil
}

func (a *Dequeuer) pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.attempts)
}

// WorkerHook exposes a core.JobWorkerHook to go-job workers.
type WorkerHook struct {
	hook core.JobWorkerHook
}

func NewWorkerHook(hook core.JobWorkerHook) *WorkerHook {
	return &WorkerHook{hook: hook}
}

func (a *WorkerHook) OnStart(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnStart(ctx, workerEvent(event))
	}
}

func (a *WorkerHook) OnSuccess(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnSuccess(ctx, workerEvent(event))
	}
}

func (a *WorkerHook) OnFailure(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnFailure(ctx, workerEvent(event))
	}
}

func (a *WorkerHook) OnRetry(ctx context.Context, event worker.Event) {
	if a != nil && a.hook != nil {
		a.hook.OnRetry(ctx, workerEvent(event))
	}
}

func workerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// RunSubscriptionWorker consumes ensure-subscription jobs from dequeuer
// until ctx is cancelled.
func RunSubscriptionWorker(ctx context.Context, service *core.Service, dequeuer queue.Dequeuer, policy RetryPolicy, hook core.JobWorkerHook) error {
	handler, err := core.NewSubscriptionJobHandler(service, core.DefaultSubscriptionJobConfig(), hook)
	if err != nil {
		return err
	}
	return handler.Run(ctx, NewDequeuer(dequeuer, policy))
}

func cloneParameters(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*Enqueuer)(nil)
	_ core.JobDelivery = (*Delivery)(nil)
	_ core.JobDequeuer = (*Dequeuer)(nil)
	_ worker.Hook      = (*WorkerHook)(nil)
)
