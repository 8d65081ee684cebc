package core

import (
	"context"
	"strings"
	"time"
)

// CompleteLogin finishes an authorization-code login: it checks the callback
// parameters, exchanges the code, resolves the user, and hands the grant to
// that user's actor.
func (s *Service) CompleteLogin(ctx context.Context, req CompleteLoginRequest) (result CompleteLoginResult, err error) {
	if s == nil {
		return CompleteLoginResult{}, NewCallbackError(nil, "core: service is nil")
	}
	startedAt := time.Now()
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_login", result.PrincipalID, err, nil)
		if err != nil {
			s.telemetry.Emit(TelemetryIndexErrors, "login", err.Error())
		}
	}()

	if err := ValidateLoginCallback(req, s.config.Login.RequiredScopes); err != nil {
		return CompleteLoginResult{}, err
	}
	if s.identityProvider == nil {
		return CompleteLoginResult{}, NewProviderError(nil, "core: identity provider is not configured")
	}
	if s.userDirectory == nil {
		return CompleteLoginResult{}, NewProviderError(nil, "core: user directory is not configured")
	}

	exchangeCtx, cancel := s.requestContext(ctx)
	grant, err := s.identityProvider.ExchangeCode(exchangeCtx, strings.TrimSpace(req.Code), strings.TrimSpace(req.RedirectURI))
	cancel()
	if err != nil {
		switch KindOf(err) {
		case KindBadInput, KindProviderError, KindParseError:
			return CompleteLoginResult{}, err
		default:
			return CompleteLoginResult{}, NewProviderError(err, "core: authorization code exchange failed")
		}
	}

	userCtx, cancel := s.requestContext(ctx)
	user, err := s.userDirectory.CurrentUser(userCtx, grant.AccessToken)
	cancel()
	if err != nil {
		if IsProviderError(err) {
			return CompleteLoginResult{}, err
		}
		return CompleteLoginResult{}, NewProviderError(err, "core: current user lookup failed")
	}
	if strings.TrimSpace(user.ID) == "" {
		return CompleteLoginResult{}, NewParseError(nil, "core: current user response has no id")
	}

	identity := IdentityClaims{
		Subject:     strings.TrimSpace(user.ID),
		Login:       strings.TrimSpace(user.Login),
		DisplayName: strings.TrimSpace(user.DisplayName),
	}
	if grant.Identity != nil {
		identity.Extra = copyAnyMap(grant.Identity.Extra)
	}
	if err := s.Login(ctx, identity.Subject, LoginInput{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Identity:     &identity,
		ExpiresIn:    grant.ExpiresIn,
	}); err != nil {
		return CompleteLoginResult{}, err
	}
	return CompleteLoginResult{PrincipalID: identity.Subject, Identity: identity}, nil
}

// ValidateLoginCallback rejects provider errors, a missing code, and grants
// lacking any required scope. Scopes are space separated.
func ValidateLoginCallback(req CompleteLoginRequest, requiredScopes []string) error {
	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		message := "authorization was denied: " + providerErr
		if description := strings.TrimSpace(req.Description); description != "" {
			message += " (" + description + ")"
		}
		return NewBadInputError("error", message)
	}
	if strings.TrimSpace(req.Code) == "" {
		return NewBadInputError("code", "authorization code is required")
	}
	granted := map[string]struct{}{}
	for _, scope := range strings.Fields(req.Scope) {
		granted[scope] = struct{}{}
	}
	missing := make([]string, 0)
	for _, scope := range requiredScopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := granted[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return NewBadInputError("scope", "missing required scopes: "+strings.Join(missing, " "))
	}
	return nil
}

func (s *Service) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := s.config.RequestTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
