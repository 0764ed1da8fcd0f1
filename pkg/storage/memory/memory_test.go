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

package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/storage"
)

func TestPutGet(t *testing.T) {
	backend := New()
	defer backend.Close()

	require.NoError(t, backend.Put("a/b", []byte("value")))

	got, err := backend.Get("a/b")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestGetNotFound(t *testing.T) {
	backend := New()
	defer backend.Close()

	_, err := backend.Get("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInvalidKey(t *testing.T) {
	backend := New()
	defer backend.Close()

	_, err := backend.Get("")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
	assert.ErrorIs(t, backend.Put("", nil), storage.ErrInvalidKey)
	assert.ErrorIs(t, backend.Delete(""), storage.ErrInvalidKey)
}

func TestDelete(t *testing.T) {
	backend := New()
	defer backend.Close()

	require.NoError(t, backend.Put("key", []byte("value")))
	require.NoError(t, backend.Delete("key"))

	_, err := backend.Get("key")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, backend.Delete("key"))
}

func TestListPrefix(t *testing.T) {
	backend := New()
	defer backend.Close()

	require.NoError(t, backend.Put("credentials/b", nil))
	require.NoError(t, backend.Put("credentials/a", nil))
	require.NoError(t, backend.Put("identities/alice/a", nil))

	keys, err := backend.List("credentials/")
	require.NoError(t, err)
	assert.Equal(t, []string{"credentials/a", "credentials/b"}, keys)

	all, err := backend.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestExists(t *testing.T) {
	backend := New()
	defer backend.Close()

	ok, err := backend.Exists("key")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Put("key", []byte("value")))
	ok, err = backend.Exists("key")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefensiveCopies(t *testing.T) {
	backend := New()
	defer backend.Close()

	value := []byte{1, 2, 3}
	require.NoError(t, backend.Put("key", value))
	value[0] = 99

	got, err := backend.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[1] = 99
	again, err := backend.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, again)
}

func TestClosed(t *testing.T) {
	backend := New()
	require.NoError(t, backend.Close())

	_, err := backend.Get("key")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, backend.Put("key", nil), storage.ErrClosed)
	assert.ErrorIs(t, backend.Delete("key"), storage.ErrClosed)
	_, err = backend.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestConcurrentAccess(t *testing.T) {
	backend := New()
	defer backend.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("worker-%d/item-%d", n, j)
				assert.NoError(t, backend.Put(key, []byte(key)))
				_, _ = backend.Get(key)
			}
		}(i)
	}
	wg.Wait()

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Len(t, keys, 8*50)
}
