package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SubscriptionJobConfig struct {
	RetryDelay  time.Duration
	IdleBackoff time.Duration
}

func DefaultSubscriptionJobConfig() SubscriptionJobConfig {
	return SubscriptionJobConfig{
		RetryDelay:  5 * time.Second,
		IdleBackoff: 250 * time.Millisecond,
	}
}

// SubscriptionJobHandler consumes queued ensure-subscriptions jobs.
type SubscriptionJobHandler struct {
	service *Service
	config  SubscriptionJobConfig
	hook    JobWorkerHook
}

func NewSubscriptionJobHandler(service *Service, config SubscriptionJobConfig, hook JobWorkerHook) (*SubscriptionJobHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("core: subscription job handler requires a service")
	}
	defaults := DefaultSubscriptionJobConfig()
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.IdleBackoff <= 0 {
		config.IdleBackoff = defaults.IdleBackoff
	}
	return &SubscriptionJobHandler{service: service, config: config, hook: hook}, nil
}

// HandleDelivery acks processed jobs, dead-letters malformed ones, and
// requeues jobs that could not acquire the principal lock.
func (h *SubscriptionJobHandler) HandleDelivery(ctx context.Context, delivery JobDelivery) error {
	if h == nil || delivery == nil {
		return fmt.Errorf("core: subscription job delivery is required")
	}
	msg := delivery.Message()
	event := JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: h.service.now()}
	h.onStart(ctx, event)

	principalID, requiredTypes, err := parseSubscriptionJob(msg, h.service.config.Subscriptions.RequiredTypes)
	if err != nil {
		event.Err = err
		event.Duration = h.service.now().Sub(event.StartedAt)
		h.onFailure(ctx, event)
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	actor, err := h.service.Actor(principalID)
	if err == nil {
		_, err = actor.EnsureSubscriptions(ctx, requiredTypes)
	}
	event.Duration = h.service.now().Sub(event.StartedAt)
	if err != nil {
		event.Err = err
		event.Delay = h.config.RetryDelay
		h.onRetry(ctx, event)
		return delivery.Nack(ctx, JobNackOptions{Requeue: true, Delay: h.config.RetryDelay, Reason: err.Error()})
	}
	h.onSuccess(ctx, event)
	return delivery.Ack(ctx)
}

// Run dequeues until ctx is cancelled.
func (h *SubscriptionJobHandler) Run(ctx context.Context, dequeuer JobDequeuer) error {
	if h == nil || dequeuer == nil {
		return fmt.Errorf("core: subscription job dequeuer is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			h.service.logError(ctx, "subscription job dequeue failed", map[string]any{"error": err.Error()})
			if !sleepContext(ctx, h.config.IdleBackoff) {
				return nil
			}
			continue
		}
		if delivery == nil {
			if !sleepContext(ctx, h.config.IdleBackoff) {
				return nil
			}
			continue
		}
		if err := h.HandleDelivery(ctx, delivery); err != nil {
			h.service.logError(ctx, "subscription job settle failed", map[string]any{"error": err.Error()})
		}
	}
}

func parseSubscriptionJob(msg *JobExecutionMessage, fallbackTypes []string) (string, []string, error) {
	if msg == nil {
		return "", nil, fmt.Errorf("core: job message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDEnsureSubscriptions {
		return "", nil, fmt.Errorf("core: unexpected job id %q", msg.JobID)
	}
	principalID, _ := msg.Parameters["principal_id"].(string)
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return "", nil, fmt.Errorf("core: job is missing principal_id")
	}
	requiredTypes := readStringSlice(msg.Parameters["required_types"])
	if len(requiredTypes) == 0 {
		requiredTypes = append([]string(nil), fallbackTypes...)
	}
	return principalID, requiredTypes, nil
}

func readStringSlice(value any) []string {
	switch typed := value.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if text, ok := item.(string); ok && strings.TrimSpace(text) != "" {
				out = append(out, strings.TrimSpace(text))
			}
		}
		return out
	default:
		return nil
	}
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (h *SubscriptionJobHandler) onStart(ctx context.Context, event JobWorkerEvent) {
	if h.hook != nil {
		h.hook.OnStart(ctx, event)
	}
}

func (h *SubscriptionJobHandler) onSuccess(ctx context.Context, event JobWorkerEvent) {
	if h.hook != nil {
		h.hook.OnSuccess(ctx, event)
	}
}

func (h *SubscriptionJobHandler) onFailure(ctx context.Context, event JobWorkerEvent) {
	if h.hook != nil {
		h.hook.OnFailure(ctx, event)
	}
}

func (h *SubscriptionJobHandler) onRetry(ctx context.Context, event JobWorkerEvent) {
	if h.hook != nil {
		h.hook.OnRetry(ctx, event)
	}
}
