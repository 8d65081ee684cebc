package core

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const defaultSubscriptionParallelism = 4

// EnsureResult reports what one registrar pass accomplished.
type EnsureResult struct {
	Created []Subscription
	Failed  []SubscriptionFailure
}

type SubscriptionFailure struct {
	Type string
	Err  error
}

// SubscriptionRegistrar creates the provider subscriptions a principal is
// missing. Callers serialize passes per principal.
type SubscriptionRegistrar struct {
	store           SubscriptionStore
	provider        SubscriptionProvider
	tokens          AppTokenSource
	callbackBaseURL string
	version         string
	maxParallel     int
	telemetry       *AsyncTelemetry
	logger          Logger
}

// Ensure never returns an error: each failure is reported through telemetry
// and in the result, and successful creations are persisted even when
// siblings fail.
func (r *SubscriptionRegistrar) Ensure(ctx context.Context, principalID string, requiredTypes []string) EnsureResult {
	result := EnsureResult{}
	if r == nil {
		return result
	}
	if ctx == nil {
		ctx = context.Background()
	}
	principalID = strings.TrimSpace(principalID)

	existing, err := r.listExisting(ctx, principalID)
	if err != nil {
		r.reportFailure(principalID, "", err)
		return result
	}
	missing := MissingSubscriptionTypes(requiredTypes, existing)
	if len(missing) == 0 {
		return result
	}
	if r.provider == nil {
		err := fmt.Errorf("core: subscription provider is not configured")
		for _, typ := range missing {
			result.Failed = append(result.Failed, SubscriptionFailure{Type: typ, Err: err})
			r.reportFailure(principalID, typ, err)
		}
		return result
	}

	appToken, err := r.appToken(ctx)
	if err != nil {
		for _, typ := range missing {
			result.Failed = append(result.Failed, SubscriptionFailure{Type: typ, Err: err})
			r.reportFailure(principalID, typ, err)
		}
		return result
	}

	created := make([][]Subscription, len(missing))
	failures := make([]error, len(missing))
	limit := r.maxParallel
	if limit <= 0 {
		limit = defaultSubscriptionParallelism
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for idx, typ := range missing {
		request := r.buildRequest(principalID, typ, appToken)
		group.Go(func() error {
			subs, createErr := r.provider.CreateSubscription(groupCtx, request)
			if createErr != nil {
				failures[idx] = createErr
				return nil
			}
			created[idx] = subs
			return nil
		})
	}
	_ = group.Wait()

	for idx, typ := range missing {
		if failures[idx] != nil {
			result.Failed = append(result.Failed, SubscriptionFailure{Type: typ, Err: failures[idx]})
			r.reportFailure(principalID, typ, failures[idx])
			continue
		}
		for _, sub := range created[idx] {
			result.Created = append(result.Created, sub)
			r.telemetry.Emit(TelemetryIndexWebhooksCreated, sub.Type, sub.ID, principalID)
		}
	}
	if len(result.Created) == 0 {
		return result
	}
	if err := r.store.Append(ctx, principalID, result.Created); err != nil {
		r.reportFailure(principalID, "", fmt.Errorf("core: persist subscriptions: %w", err))
	}
	return result
}

func (r *SubscriptionRegistrar) listExisting(ctx context.Context, principalID string) ([]Subscription, error) {
	if r.store == nil {
		return nil, fmt.Errorf("core: subscription store is not configured")
	}
	return r.store.List(ctx, principalID)
}

func (r *SubscriptionRegistrar) appToken(ctx context.Context) (string, error) {
	if r.tokens == nil {
		return "", fmt.Errorf("core: app token source is not configured")
	}
	token, err := r.tokens.AppAccessToken(ctx, false)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (r *SubscriptionRegistrar) buildRequest(principalID string, subscriptionType string, appToken string) SubscriptionRequest {
	version := strings.TrimSpace(r.version)
	if version == "" {
		version = DefaultSubscriptionVersion
	}
	return SubscriptionRequest{
		Type:        subscriptionType,
		Version:     version,
		Condition:   SubscriptionCondition(subscriptionType, principalID),
		CallbackURL: SubscriptionCallbackURL(r.callbackBaseURL, subscriptionType),
		AccessToken: appToken,
	}
}

func (r *SubscriptionRegistrar) reportFailure(principalID string, subscriptionType string, err error) {
	if err == nil {
		return
	}
	r.telemetry.Emit(TelemetryIndexErrors, "eventsub", "failed to create subscription: "+err.Error(), subscriptionType, principalID)
	if r.logger != nil {
		r.logger.Warn("subscription create failed",
			"principal_id", principalID,
			"subscription_type", subscriptionType,
			"error", err.Error(),
		)
	}
}

// MissingSubscriptionTypes returns required types absent from existing,
// preserving required order and dropping duplicates.
func MissingSubscriptionTypes(required []string, existing []Subscription) []string {
	present := make(map[string]struct{}, len(existing))
	for _, sub := range existing {
		present[strings.TrimSpace(sub.Type)] = struct{}{}
	}
	missing := make([]string, 0, len(required))
	for _, typ := range required {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			continue
		}
		if _, ok := present[typ]; ok {
			continue
		}
		present[typ] = struct{}{}
		missing = append(missing, typ)
	}
	return missing
}

// SubscriptionCondition keys user.update on user_id and everything else on
// broadcaster_user_id.
func SubscriptionCondition(subscriptionType string, principalID string) map[string]string {
	if strings.TrimSpace(subscriptionType) == "user.update" {
		return map[string]string{"user_id": principalID}
	}
	return map[string]string{"broadcaster_user_id": principalID}
}

// SubscriptionCallbackURL routes a type to the webhook path named after its
// category, e.g. stream.online -> <base>/stream.
func SubscriptionCallbackURL(baseURL string, subscriptionType string) string {
	category, _, _ := strings.Cut(strings.TrimSpace(subscriptionType), ".")
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/" + category
}
