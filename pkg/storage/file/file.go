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

// Package file provides a filesystem storage backend. Each key maps to a
// file under the root directory, with slash-separated key segments becoming
// subdirectories. Writes are atomic via temp file and rename.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-passkey/pkg/storage"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Backend stores values as files under a root directory.
type Backend struct {
	mu     sync.RWMutex
	root   string
	closed bool
}

// New creates a file backend rooted at dir, creating it if needed.
func New(dir string) (*Backend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage: empty root directory")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("file storage: create root: %w", err)
	}
	return &Backend{root: dir}, nil
}

// path maps a key to its file path, rejecting traversal outside the root.
func (b *Backend) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", storage.ErrInvalidKey
	}
	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

func (b *Backend) Get(key string) ([]byte, error) {
	path, err := b.path(key)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: read %s: %w", key, err)
	}
	return data, nil
}

func (b *Backend) Put(key string, value []byte) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("file storage: create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("file storage: temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: write %s: %w", key, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file storage: chmod %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file storage: rename %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Delete(key string) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file storage: delete %s: %w", key, err)
	}
	return nil
}

func (b *Backend) List(prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}

	var keys []string
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) Exists(key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, storage.ErrClosed
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("file storage: stat %s: %w", key, err)
	}
	return true, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}
