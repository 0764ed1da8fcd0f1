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
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/storage"
)

// AccountResolver maps an identity string to an account. Implementations are
// supplied by the hosting application; the relying party core never owns
// user accounts.
type AccountResolver interface {
	// LookupAccount resolves an identity to an account. Returns
	// ErrIdentityNotFound when no such identity exists.
	LookupAccount(ctx context.Context, identity string) (*Account, error)
}

// Storage key layout: one entry per credential plus an index entry per
// owner, so per-identity listing does not scan every credential.
const (
	credentialKeyPrefix = "credentials/"
	identityKeyPrefix   = "identities/"
)

func credentialKey(id []byte) string {
	return credentialKeyPrefix + base64.RawURLEncoding.EncodeToString(id)
}

func identityPrefix(identity string) string {
	return identityKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(identity)) + "/"
}

func identityKey(identity string, id []byte) string {
	return identityPrefix(identity) + base64.RawURLEncoding.EncodeToString(id)
}

// Repository stores credential records in a storage backend and resolves
// owner identities through an AccountResolver. All mutations run under one
// mutex: concurrent operations on distinct credentials are safe and
// same-credential updates are serialized, which ApplyAssertion relies on for
// clone detection.
type Repository struct {
	mu       sync.Mutex
	backend  storage.Backend
	accounts AccountResolver
}

// NewRepository creates a credential repository over the given backend.
func NewRepository(backend storage.Backend, accounts AccountResolver) *Repository {
	return &Repository{
		backend:  backend,
		accounts: accounts,
	}
}

// Save persists a credential record. The owner identity must resolve to a
// known account. Saving the same credential ID for the same owner overwrites
// the record; rebinding the ID to a different identity is refused.
func (r *Repository) Save(ctx context.Context, record *CredentialRecord) error {
	const op = "save credential"

	if err := record.Validate(); err != nil {
		return wrapError(op, err)
	}
	if _, err := r.accounts.LookupAccount(ctx, record.OwnerIdentity); err != nil {
		return wrapError(op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.loadLocked(record.ID); err == nil {
		if existing.OwnerIdentity != record.OwnerIdentity {
			return wrapError(op, ErrCredentialBound)
		}
	} else if !errors.Is(err, ErrCredentialNotFound) {
		return wrapError(op, err)
	}

	return wrapError(op, r.putLocked(record))
}

// FindByCredentialID returns the record for a credential ID, or
// ErrCredentialNotFound.
func (r *Repository) FindByCredentialID(ctx context.Context, id []byte) (*CredentialRecord, error) {
	const op = "find credential"

	if len(id) == 0 {
		return nil, wrapError(op, ErrCredentialNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.loadLocked(id)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return record, nil
}

// FindAllForIdentity returns every credential registered to an identity.
// The identity must resolve to a known account. Index entries pointing at
// missing or undecodable records are skipped, so one corrupt entry does not
// take the whole account's passkeys offline.
func (r *Repository) FindAllForIdentity(ctx context.Context, identity string) ([]*CredentialRecord, error) {
	const op = "list credentials"

	if _, err := r.accounts.LookupAccount(ctx, identity); err != nil {
		return nil, wrapError(op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.backend.List(identityPrefix(identity))
	if err != nil {
		return nil, wrapError(op, fmt.Errorf("list index: %w", err))
	}

	records := make([]*CredentialRecord, 0, len(keys))
	for _, key := range keys {
		data, err := r.backend.Get(key)
		if err != nil {
			continue
		}
		record, err := UnmarshalRecord(data)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a credential. The owner identity must still resolve; a
// backend failure surfaces as ErrDeleteFailed.
func (r *Repository) Delete(ctx context.Context, record *CredentialRecord) error {
	const op = "delete credential"

	if _, err := r.accounts.LookupAccount(ctx, record.OwnerIdentity); err != nil {
		return wrapError(op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.loadLocked(record.ID)
	if err != nil {
		return wrapError(op, err)
	}
	if stored.OwnerIdentity != record.OwnerIdentity {
		return wrapError(op, ErrCredentialNotFound)
	}

	if err := r.backend.Delete(credentialKey(record.ID)); err != nil {
		return wrapError(op, fmt.Errorf("%w: %v", ErrDeleteFailed, err))
	}
	if err := r.backend.Delete(identityKey(stored.OwnerIdentity, record.ID)); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return wrapError(op, fmt.Errorf("%w: index: %v", ErrDeleteFailed, err))
		}
	}
	return nil
}

// ApplyAssertion commits the result of a validated assertion: it re-checks
// the counter against the currently stored value under the repository lock,
// then persists the new counter, flag state, and last-use metadata. The
// re-check closes the window where two assertions validated against the same
// snapshot could both commit.
func (r *Repository) ApplyAssertion(ctx context.Context, result *AssertionResult) (*CredentialRecord, error) {
	const op = "apply assertion"

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.loadLocked(result.Record.ID)
	if err != nil {
		return nil, wrapError(op, err)
	}

	if err := CheckSignCount(record.SignCount, result.NewSignCount); err != nil {
		return nil, wrapError(op, err)
	}

	if result.NewSignCount > 0 {
		record.SignCount = result.NewSignCount
	}
	if result.UserVerified {
		record.UVInitialized = true
	}
	record.BackupState = result.BackupState
	record.Extra.LastUsedAt = time.Now().UTC()
	record.Extra.LastOrigin = result.Origin

	if err := r.putLocked(record); err != nil {
		return nil, wrapError(op, err)
	}
	return record, nil
}

// UpdateLabel changes the user-facing label on a credential.
func (r *Repository) UpdateLabel(ctx context.Context, id []byte, label string) (*CredentialRecord, error) {
	const op = "update credential label"

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.loadLocked(id)
	if err != nil {
		return nil, wrapError(op, err)
	}
	record.Extra.Label = label
	if err := r.putLocked(record); err != nil {
		return nil, wrapError(op, err)
	}
	return record, nil
}

func (r *Repository) loadLocked(id []byte) (*CredentialRecord, error) {
	data, err := r.backend.Get(credentialKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	record, err := UnmarshalRecord(data)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return record, nil
}

func (r *Repository) putLocked(record *CredentialRecord) error {
	data, err := MarshalRecord(record)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := r.backend.Put(credentialKey(record.ID), data); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	if err := r.backend.Put(identityKey(record.OwnerIdentity, record.ID), data); err != nil {
		return fmt.Errorf("store credential index: %w", err)
	}
	return nil
}
