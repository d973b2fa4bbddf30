// Package transport abstracts the external channel that delivers one message
// to one phone number. Which concrete transport serves an account is decided
// at send time through the registry.
package transport

import (
	"context"
	"sync"

	"github.com/convoreach/backend/internal/apperrors"
)

// Transport delivers one message and returns the provider's delivery id.
type Transport interface {
	Send(ctx context.Context, phone, message string) (string, error)
}

// Registry maps accounts to their single active transport binding.
type Registry struct {
	mu        sync.RWMutex
	byAccount map[int]Transport
}

func NewRegistry() *Registry {
	return &Registry{byAccount: make(map[int]Transport)}
}

func (r *Registry) Register(accountID int, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAccount[accountID] = t
}

func (r *Registry) Unregister(accountID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAccount, accountID)
}

// Active returns the account's transport, or NoActiveTransportError when the
// account has none bound.
func (r *Registry) Active(accountID int) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAccount[accountID]
	if !ok {
		return nil, apperrors.NewNoActiveTransport(accountID)
	}
	return t, nil
}
