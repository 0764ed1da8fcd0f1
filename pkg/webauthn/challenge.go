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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/storage"
)

// ChallengeStore holds challenges issued for in-flight ceremonies, keyed by
// an opaque request ID. Take consumes: a challenge can be redeemed at most
// once, and never after its TTL.
type ChallengeStore interface {
	// Put stores a challenge under requestID with the given lifetime,
	// replacing any previous entry for the same ID.
	Put(ctx context.Context, requestID string, challenge []byte, ttl time.Duration) error

	// Take atomically retrieves and deletes the challenge for requestID.
	// Returns ErrChallengeNotFound when absent, already consumed, or
	// expired.
	Take(ctx context.Context, requestID string) ([]byte, error)
}

type challengeEntry struct {
	challenge []byte
	expiresAt time.Time
}

// MemoryChallengeStore is an in-memory ChallengeStore for single-process
// deployments and tests.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	now     func() time.Time
}

// NewMemoryChallengeStore creates an empty in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		entries: make(map[string]challengeEntry),
		now:     time.Now,
	}
}

// Put implements ChallengeStore. Expired entries are swept opportunistically
// so an idle store does not grow without bound.
func (s *MemoryChallengeStore) Put(_ context.Context, requestID string, challenge []byte, ttl time.Duration) error {
	if requestID == "" {
		return fmt.Errorf("challenge store: empty request ID")
	}
	if len(challenge) == 0 {
		return fmt.Errorf("challenge store: empty challenge")
	}

	stored := make([]byte, len(challenge))
	copy(stored, challenge)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}

	s.entries[requestID] = challengeEntry{
		challenge: stored,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Take implements ChallengeStore. The read and delete happen under one lock
// acquisition, so two concurrent Takes for the same ID cannot both succeed.
func (s *MemoryChallengeStore) Take(_ context.Context, requestID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	delete(s.entries, requestID)

	if s.now().After(entry.expiresAt) {
		return nil, ErrChallengeNotFound
	}
	return entry.challenge, nil
}

// Len returns the number of pending challenges, expired entries included.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

const challengeKeyPrefix = "challenges/"

type storedChallenge struct {
	Challenge URLEncodedBase64 `json:"challenge"`
	ExpiresAt int64            `json:"expiresAt"`
}

// BackendChallengeStore persists challenges in a storage backend so pending
// ceremonies survive a process restart. Take's read-then-delete is serialized
// through the store's own mutex, which holds for a single process per
// backend.
type BackendChallengeStore struct {
	mu      sync.Mutex
	backend storage.Backend
	now     func() time.Time
}

// NewBackendChallengeStore creates a challenge store over the given backend.
func NewBackendChallengeStore(backend storage.Backend) *BackendChallengeStore {
	return &BackendChallengeStore{
		backend: backend,
		now:     time.Now,
	}
}

func (s *BackendChallengeStore) Put(_ context.Context, requestID string, challenge []byte, ttl time.Duration) error {
	if requestID == "" {
		return fmt.Errorf("challenge store: empty request ID")
	}
	if len(challenge) == 0 {
		return fmt.Errorf("challenge store: empty challenge")
	}

	entry := storedChallenge{
		Challenge: challenge,
		ExpiresAt: s.now().Add(ttl).Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("challenge store: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepExpired()

	if err := s.backend.Put(challengeKeyPrefix+requestID, data); err != nil {
		return fmt.Errorf("challenge store: put: %w", err)
	}
	return nil
}

// sweepExpired removes expired and undecodable entries so abandoned
// ceremonies do not accumulate in the backend. Best effort; caller holds
// s.mu.
func (s *BackendChallengeStore) sweepExpired() {
	keys, err := s.backend.List(challengeKeyPrefix)
	if err != nil {
		return
	}
	now := s.now().Unix()
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if err != nil {
			continue
		}
		var entry storedChallenge
		if err := json.Unmarshal(data, &entry); err != nil || now > entry.ExpiresAt {
			s.backend.Delete(key)
		}
	}
}

func (s *BackendChallengeStore) Take(_ context.Context, requestID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKeyPrefix + requestID
	data, err := s.backend.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("challenge store: get: %w", err)
	}
	if err := s.backend.Delete(key); err != nil {
		return nil, fmt.Errorf("challenge store: delete: %w", err)
	}

	var entry storedChallenge
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("challenge store: decode: %w", err)
	}
	if s.now().Unix() > entry.ExpiresAt {
		return nil, ErrChallengeNotFound
	}
	return entry.Challenge, nil
}
