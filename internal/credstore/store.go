// Package credstore is the durable key/value store that survives restarts.
// It holds the session token, the serialized identity and the conversation handle.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"taskchat/internal/config"
)

// Keys written by the Session Manager and the Conversation Manager.
const (
	KeyToken        = "token"
	KeyUser         = "user"
	KeyConversation = "conversation_id"
)

// SessionKeys are cleared together on logout and expiry.
var SessionKeys = []string{KeyToken, KeyUser, KeyConversation}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("credential store closed")

// Store is a process-wide durable key/value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases the backend.
	Close() error
}

// Open opens the store selected by cfg.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverFile, "":
		return OpenFile(cfg.StorePath())
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.StorePath())
	case config.DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// Memory is an in-process Store. Values do not survive the process.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.values[key] = value
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
