package core

import (
	"context"
	"strings"
	"time"
)

const JobIDEnsureSubscriptions = "credentials.subscriptions.ensure"

// revokeLockWait bounds how long a revocation queues behind in-flight work
// on the same principal.
const revokeLockWait = time.Minute

// CredentialActor is the serialized view of one principal's credential.
// Every operation holds the principal lock for its whole duration, so
// operations against the same principal run one at a time in arrival order.
type CredentialActor struct {
	principalID string
	service     *Service
}

func (a *CredentialActor) PrincipalID() string {
	if a == nil {
		return ""
	}
	return a.principalID
}

func (a *CredentialActor) GetAccessToken(ctx context.Context, force bool) (token AccessToken, err error) {
	s := a.service
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "get_access_token", a.principalID, err, map[string]any{
			"force":     force,
			"refreshed": token.Refreshed,
		})
	}()

	unlock, err := a.lock(ctx)
	if err != nil {
		return AccessToken{}, err
	}
	defer unlock()

	current, found, err := s.credentialStore.Load(ctx, a.principalID)
	if err != nil {
		return AccessToken{}, s.mapError(err)
	}
	if s.config.IsAppPrincipal(a.principalID) {
		return a.appTokenLocked(ctx, current, found, force)
	}
	if !found {
		return AccessToken{}, NewNotLoggedInError(a.principalID)
	}
	if current.Revoked {
		return AccessToken{}, NewRevokedError(a.principalID)
	}
	if !force && !current.Expired(s.now()) {
		s.telemetry.Emit(TelemetryIndexAuthentication, append([]string{"get-token"}, identityBlobs(current.Identity, a.principalID)...)...)
		return accessTokenFrom(current, false), nil
	}
	return a.refreshLocked(ctx, current)
}

// refreshLocked exchanges the stored refresh token. Only an explicit
// invalid-refresh-token outcome is destructive; every other failure leaves
// the stored credential untouched.
func (a *CredentialActor) refreshLocked(ctx context.Context, current Credential) (AccessToken, error) {
	s := a.service
	blobs := identityBlobs(current.Identity, a.principalID)
	if s.identityProvider == nil {
		return AccessToken{}, NewProviderError(nil, "core: identity provider is not configured")
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		return AccessToken{}, NewProviderError(nil, "core: no refresh token stored for principal")
	}

	requestCtx, cancel := a.requestContext(ctx)
	grant, err := s.identityProvider.RefreshToken(requestCtx, current.RefreshToken)
	cancel()
	if err != nil {
		s.telemetry.Emit(TelemetryIndexErrors, append([]string{"refresh", "could not refresh auth token: " + err.Error()}, blobs...)...)
		if IsRevoked(err) {
			a.revokeLocked(context.WithoutCancel(ctx))
			return AccessToken{}, NewRevokedError(a.principalID)
		}
		if IsProviderError(err) {
			return AccessToken{}, err
		}
		return AccessToken{}, NewProviderError(err, "core: refresh token request failed")
	}

	refreshed := Credential{
		PrincipalID:  a.principalID,
		AccessToken:  strings.TrimSpace(grant.AccessToken),
		RefreshToken: strings.TrimSpace(grant.RefreshToken),
		Identity:     CloneIdentity(current.Identity),
		ExpiresAt:    a.expiresAt(grant.ExpiresIn),
		UpdatedAt:    s.now(),
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = current.RefreshToken
	}
	// The provider may have rotated the refresh token already, so the write
	// must land even if the caller has gone away.
	if err := s.credentialStore.Save(context.WithoutCancel(ctx), refreshed); err != nil {
		return AccessToken{}, s.mapError(err)
	}
	s.telemetry.Emit(TelemetryIndexAuthentication, append([]string{"refresh"}, blobs...)...)
	return accessTokenFrom(refreshed, true), nil
}

func (a *CredentialActor) appTokenLocked(ctx context.Context, current Credential, found bool, force bool) (AccessToken, error) {
	s := a.service
	if found && current.Revoked && !force {
		return AccessToken{}, NewRevokedError(a.principalID)
	}
	if found && !current.Revoked && !force && !current.Expired(s.now()) &&
		strings.TrimSpace(current.AccessToken) != "" {
		s.telemetry.Emit(TelemetryIndexAuthentication, "get-app-token")
		return accessTokenFrom(current, false), nil
	}
	if s.identityProvider == nil {
		return AccessToken{}, NewProviderError(nil, "core: identity provider is not configured")
	}

	requestCtx, cancel := a.requestContext(ctx)
	grant, err := s.identityProvider.ClientCredentials(requestCtx)
	cancel()
	if err != nil {
		s.telemetry.Emit(TelemetryIndexErrors, "generate-app-token", "could not generate app token: "+err.Error())
		if IsProviderError(err) {
			return AccessToken{}, err
		}
		return AccessToken{}, NewProviderError(err, "core: client credentials request failed")
	}

	next := Credential{
		PrincipalID: a.principalID,
		AccessToken: strings.TrimSpace(grant.AccessToken),
		ExpiresAt:   a.expiresAt(grant.ExpiresIn),
		UpdatedAt:   s.now(),
	}
	if err := s.credentialStore.Save(context.WithoutCancel(ctx), next); err != nil {
		return AccessToken{}, s.mapError(err)
	}
	s.telemetry.Emit(TelemetryIndexAuthentication, "generate-app-token")
	return accessTokenFrom(next, true), nil
}

// Login replaces the credential wholesale and clears any revocation.
func (a *CredentialActor) Login(ctx context.Context, in LoginInput) (err error) {
	s := a.service
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "login", a.principalID, err, map[string]any{
			"has_identity":      in.Identity != nil,
			"has_refresh_token": strings.TrimSpace(in.RefreshToken) != "",
		})
	}()

	if err := ValidateLoginInput(in); err != nil {
		return err
	}

	unlock, err := a.lock(ctx)
	if err != nil {
		return err
	}
	next := Credential{
		PrincipalID:  a.principalID,
		AccessToken:  strings.TrimSpace(in.AccessToken),
		RefreshToken: strings.TrimSpace(in.RefreshToken),
		Identity:     CloneIdentity(in.Identity),
		ExpiresAt:    a.expiresAt(in.ExpiresIn),
		UpdatedAt:    s.now(),
	}
	saveErr := s.credentialStore.Save(ctx, next)
	unlock()
	if saveErr != nil {
		return s.mapError(saveErr)
	}

	s.telemetry.Emit(TelemetryIndexAuthentication, append([]string{"login"}, identityBlobs(next.Identity, a.principalID)...)...)
	if next.Identity != nil && !s.config.IsAppPrincipal(a.principalID) {
		a.scheduleSubscriptions()
	}
	return nil
}

func ValidateLoginInput(in LoginInput) error {
	if strings.TrimSpace(in.AccessToken) == "" {
		return NewBadInputError("access_token", "access token is required")
	}
	if in.ExpiresIn <= 0 {
		return NewBadInputError("expires_in", "expires_in must be a positive number of seconds")
	}
	if in.Identity != nil && strings.TrimSpace(in.Identity.Subject) == "" {
		return NewBadInputError("id_token_claims.sub", "identity subject is required when claims are supplied")
	}
	return nil
}

// UpdateIdentity rewrites identity claims only. A missing or revoked
// credential makes it a no-op.
func (a *CredentialActor) UpdateIdentity(ctx context.Context, in IdentityUpdate) (err error) {
	s := a.service
	startedAt := time.Now()
	updated := false
	defer func() {
		s.observeOperation(ctx, startedAt, "update_identity", a.principalID, err, map[string]any{
			"updated": updated,
		})
	}()

	unlock, err := a.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	current, found, err := s.credentialStore.Load(ctx, a.principalID)
	if err != nil {
		return s.mapError(err)
	}
	if !found || current.Revoked {
		return nil
	}
	current.Identity = &IdentityClaims{
		Subject:     strings.TrimSpace(in.Subject),
		Login:       strings.TrimSpace(in.Login),
		DisplayName: strings.TrimSpace(in.DisplayName),
	}
	current.UpdatedAt = s.now()
	if err := s.credentialStore.Save(ctx, current); err != nil {
		return s.mapError(err)
	}
	updated = true
	return nil
}

// Revoke marks the credential revoked. Once the call is accepted it runs
// to completion even if the caller goes away: the lock wait and the write
// are detached from caller cancellation and bounded by revokeLockWait.
// Persistence failures are logged; only a lock that cannot be acquired is
// reported so the caller can retry.
func (a *CredentialActor) Revoke(ctx context.Context) (err error) {
	s := a.service
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "revoke", a.principalID, err, nil)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeLockWait)
	defer cancel()

	unlock, err := a.lock(detached)
	if err != nil {
		return err
	}
	defer unlock()
	a.revokeLocked(context.WithoutCancel(ctx))
	return nil
}

// EnsureSubscriptions runs the registrar while holding the principal lock,
// keeping the actor the only writer of the principal's subscription set.
func (a *CredentialActor) EnsureSubscriptions(ctx context.Context, requiredTypes []string) (result EnsureResult, err error) {
	s := a.service
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "ensure_subscriptions", a.principalID, err, map[string]any{
			"created": len(result.Created),
			"failed":  len(result.Failed),
		})
	}()

	if s.config.IsAppPrincipal(a.principalID) {
		return EnsureResult{}, NewBadInputError("principal_id", "app principal has no subscriptions")
	}
	unlock, err := a.lock(ctx)
	if err != nil {
		return EnsureResult{}, err
	}
	defer unlock()
	return s.registrar.Ensure(ctx, a.principalID, requiredTypes), nil
}

func (a *CredentialActor) scheduleSubscriptions() {
	s := a.service
	principalID := a.principalID
	requiredTypes := append([]string(nil), s.config.Subscriptions.RequiredTypes...)
	task := func(ctx context.Context) {
		if _, err := a.EnsureSubscriptions(ctx, requiredTypes); err != nil {
			s.telemetry.Emit(TelemetryIndexErrors, "eventsub", "failed to run create subscriptions: "+err.Error(), principalID)
		}
	}
	if s.jobEnqueuer != nil {
		task = func(ctx context.Context) {
			err := s.jobEnqueuer.Enqueue(ctx, &JobExecutionMessage{
				JobID:      JobIDEnsureSubscriptions,
				ScriptPath: JobIDEnsureSubscriptions,
				Parameters: map[string]any{
					"principal_id":   principalID,
					"required_types": requiredTypes,
				},
				IdempotencyKey: JobIDEnsureSubscriptions + ":" + principalID,
				DedupPolicy:    "drop",
			})
			if err != nil {
				s.telemetry.Emit(TelemetryIndexErrors, "eventsub", "failed to enqueue create subscriptions: "+err.Error(), principalID)
			}
		}
	}
	if err := s.runner.Submit("subscriptions.ensure", task); err != nil {
		s.telemetry.Emit(TelemetryIndexErrors, "eventsub", "failed to schedule create subscriptions: "+err.Error(), principalID)
	}
}

func (a *CredentialActor) lock(ctx context.Context) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	handle, err := a.service.locker.Acquire(ctx, a.principalID)
	if err != nil {
		return nil, a.service.mapError(err)
	}
	return handle.Unlock, nil
}

func (a *CredentialActor) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return a.service.requestContext(ctx)
}

func (a *CredentialActor) expiresAt(expiresIn int64) time.Time {
	s := a.service
	lifetime := time.Duration(expiresIn)*time.Second - s.config.SafetyMargin()
	return s.now().Add(lifetime)
}

func accessTokenFrom(credential Credential, refreshed bool) AccessToken {
	return AccessToken{
		PrincipalID: credential.PrincipalID,
		AccessToken: credential.AccessToken,
		Identity:    CloneIdentity(credential.Identity),
		ExpiresAt:   credential.ExpiresAt,
		Refreshed:   refreshed,
	}
}

func identityBlobs(identity *IdentityClaims, principalID string) []string {
	if identity == nil {
		return []string{"", "", principalID}
	}
	return []string{identity.Subject, identity.Login, principalID}
}
