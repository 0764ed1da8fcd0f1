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

// Package storage defines the key-value backend abstraction the passkey
// service persists credential records and pending challenges in. Keys are
// slash-separated paths; values are opaque bytes.
package storage

import "errors"

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("storage: key not found")

	// ErrClosed is returned when the backend has been closed.
	ErrClosed = errors.New("storage: backend closed")

	// ErrInvalidKey is returned for empty or malformed keys.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Backend is a minimal key-value store. Implementations must be safe for
// concurrent use and must return defensive copies so callers cannot mutate
// stored data through returned slices.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns all keys with the given prefix, sorted.
	List(prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// Close releases backend resources. Operations after Close return
	// ErrClosed.
	Close() error
}
