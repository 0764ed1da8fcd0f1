// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package webauthn

import (
	"context"
	"sync"
)

// ResolverFunc adapts a function to the AccountResolver interface.
type ResolverFunc func(ctx context.Context, identity string) (*Account, error)

func (f ResolverFunc) LookupAccount(ctx context.Context, identity string) (*Account, error) {
	return f(ctx, identity)
}

// StaticAccountResolver resolves identities from a fixed in-memory set.
// Useful for the standalone server and tests; real deployments implement
// AccountResolver against their own user store.
type StaticAccountResolver struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewStaticAccountResolver creates a resolver seeded with the given
// accounts.
func NewStaticAccountResolver(accounts ...*Account) *StaticAccountResolver {
	r := &StaticAccountResolver{
		accounts: make(map[string]*Account, len(accounts)),
	}
	for _, account := range accounts {
		r.accounts[account.Identity] = account
	}
	return r
}

// Add registers or replaces an account.
func (r *StaticAccountResolver) Add(account *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.Identity] = account
}

// LookupAccount implements AccountResolver.
func (r *StaticAccountResolver) LookupAccount(_ context.Context, identity string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[identity]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return &Account{Identity: account.Identity, DisplayName: account.DisplayName}, nil
}

// OpenAccountResolver accepts any non-empty identity, treating the identity
// itself as the display name. Development and demo use only.
type OpenAccountResolver struct{}

// LookupAccount implements AccountResolver.
func (OpenAccountResolver) LookupAccount(_ context.Context, identity string) (*Account, error) {
	if identity == "" {
		return nil, ErrIdentityNotFound
	}
	return &Account{Identity: identity, DisplayName: identity}, nil
}
