// Package blobstore keeps uploaded source files outside the scan records.
package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// ErrNotFound is returned by Get for an unknown key
var ErrNotFound = errors.New("blob not found")

// Store holds file contents by key
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// DeletePrefix removes every blob whose key starts with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key returns the blob key of a file uploaded to a scan
func Key(scanID, name string) string {
	return ScanPrefix(scanID) + name
}

// ScanPrefix is the key prefix shared by every file of a scan
func ScanPrefix(scanID string) string {
	return "scans/" + scanID + "/"
}

// Checksum is the hex blake3 digest of data
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is a Store held in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.blobs[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.blobs {
		if strings.HasPrefix(key, prefix) {
			delete(m.blobs, key)
		}
	}
	return nil
}
