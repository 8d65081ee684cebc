package core

import (
	"context"
	"strings"
	"sync"
)

// MemoryCredentialStore keeps credentials in process. Values are cloned on
// the way in and out so callers never share maps with the store.
type MemoryCredentialStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{credentials: map[string]Credential{}}
}

func (s *MemoryCredentialStore) Load(_ context.Context, principalID string) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[strings.TrimSpace(principalID)]
	if !ok {
		return Credential{}, false, nil
	}
	return CloneCredential(credential), true, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, credential Credential) error {
	principalID := strings.TrimSpace(credential.PrincipalID)
	if principalID == "" {
		return NewBadInputError("principal_id", "principal id is required")
	}
	credential.PrincipalID = principalID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[principalID] = CloneCredential(credential)
	return nil
}

type MemorySubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string][]Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subscriptions: map[string][]Subscription{}}
}

func (s *MemorySubscriptionStore) List(_ context.Context, principalID string) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Subscription(nil), s.subscriptions[strings.TrimSpace(principalID)]...), nil
}

func (s *MemorySubscriptionStore) Append(_ context.Context, principalID string, subscriptions []Subscription) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return NewBadInputError("principal_id", "principal id is required")
	}
	if len(subscriptions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[principalID] = append(s.subscriptions[principalID], subscriptions...)
	return nil
}

var (
	_ CredentialStore   = (*MemoryCredentialStore)(nil)
	_ SubscriptionStore = (*MemorySubscriptionStore)(nil)
)
