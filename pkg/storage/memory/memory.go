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

// Package memory provides an in-memory storage backend for tests and
// single-process deployments.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-passkey/pkg/storage"
)

// Backend is a mutex-guarded map implementing storage.Backend.
type Backend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		data: make(map[string][]byte),
	}
}

func (b *Backend) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	value, ok := b.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (b *Backend) Put(key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	b.data[key] = stored
	return nil
}

func (b *Backend) Delete(key string) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	delete(b.data, key)
	return nil
}

func (b *Backend) List(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	keys := make([]string, 0)
	for key := range b.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) Exists(key string) (bool, error) {
	if key == "" {
		return false, storage.ErrInvalidKey
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, storage.ErrClosed
	}
	_, ok := b.data[key]
	return ok, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.data = nil
	return nil
}
