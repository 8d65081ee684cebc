package gocommand

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-credentials/command"
	"github.com/goliatone/go-credentials/core"
	"github.com/goliatone/go-credentials/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "credentials.test.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "credentials.test.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type queueMessage struct{}

func (queueMessage) Type() string { return "credentials.test.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegisterCredentialBus_DispatchesCommandsAndQueries(t *testing.T) {
	ctx := context.Background()
	svc, err := core.NewService(core.Config{ServiceName: "bus-test"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer func() { _ = svc.Close(ctx) }()

	adapter := NewRegistryAdapter(gocmd.NewRegistry())
	bus, err := RegisterCredentialBus(adapter, svc)
	if err != nil {
		t.Fatalf("register bus: %v", err)
	}
	defer bus.Close()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if err := Dispatch(ctx, command.LoginMessage{
		PrincipalID: "1337",
		Input:       core.LoginInput{AccessToken: "access-token-1", ExpiresIn: 3600},
	}); err != nil {
		t.Fatalf("dispatch login: %v", err)
	}

	token, err := Query[query.GetAccessTokenMessage, core.AccessToken](ctx, query.GetAccessTokenMessage{PrincipalID: "1337"})
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	if token.AccessToken != "access-token-1" {
		t.Fatalf("unexpected token %+v", token)
	}

	result, err := Execute[command.EnsureSubscriptionsMessage, core.EnsureResult](ctx, command.EnsureSubscriptionsMessage{PrincipalID: "1337"})
	if err != nil {
		t.Fatalf("execute ensure: %v", err)
	}
	if len(result.Created) != 0 || len(result.Failed) != len(svc.Config().Subscriptions.RequiredTypes) {
		t.Fatalf("expected every type to fail without a provider, got %+v", result)
	}

	if err := Dispatch(ctx, command.RevokeMessage{PrincipalID: "1337"}); err != nil {
		t.Fatalf("dispatch revoke: %v", err)
	}
	if _, err := Query[query.GetAccessTokenMessage, core.AccessToken](ctx, query.GetAccessTokenMessage{PrincipalID: "1337"}); !core.IsRevoked(err) {
		t.Fatalf("expected revoked after dispatched revoke, got %v", err)
	}

	if err := Dispatch(ctx, command.LoginMessage{PrincipalID: "1337"}); core.KindOf(err) != core.KindBadInput {
		t.Fatalf("expected invalid login to be rejected before dispatch, got %v", err)
	}
}

func TestRegisterCredentialBus_RequiresService(t *testing.T) {
	if _, err := RegisterCredentialBus(nil, nil); err == nil {
		t.Fatalf("expected missing service to fail")
	}
	var bus *Bus
	bus.Close()
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(gocmd.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	subscription, err := RegisterAndSubscribe(adapter, gocmd.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil }))
	if err != nil {
		t.Fatalf("register command: %v", err)
	}
	defer subscription.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get("credentials.test.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
	if err := adapter.AddQueueResolver("other", nil); err == nil {
		t.Fatalf("expected nil queue registry to fail")
	}
}
