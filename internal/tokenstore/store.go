// Package tokenstore persists the two values a client session shares across
// every running instance: the credential and the pending redirect target.
//
// A Backend is the storage for one instance (one process or one in-process
// context). Writes made through one instance are visible to every other
// instance sharing the same storage, and they are announced to the other
// instances' watchers. An instance is never notified of its own writes.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/PaperDrop/internal/config"
)

// Keys used by the session layer.
const (
	TokenKey    = "auth_token"
	RedirectKey = "redirect_after_login"
)

// ErrInvalidKey is returned for keys that cannot be stored portably.
var ErrInvalidKey = errors.New("tokenstore: invalid key")

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Change describes a write made by another instance.
type Change struct {
	Key string
	// Value is the new value; empty when Present is false.
	Value   string
	Present bool
}

// Backend is a key/value store shared between client instances.
type Backend interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. Last write wins.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Watch registers fn for changes made by other instances. The returned
	// function unregisters it. fn must not block.
	Watch(ctx context.Context, fn func(Change)) (func(), error)
	// Close releases the backend's resources.
	Close() error
}

// Slot binds a Backend to a single key.
type Slot struct {
	backend Backend
	key     string
}

// NewSlot returns a Slot for key on backend.
func NewSlot(backend Backend, key string) *Slot {
	return &Slot{backend: backend, key: key}
}

// Key returns the slot's key.
func (s *Slot) Key() string { return s.key }

// Get returns the slot value and whether it is present.
func (s *Slot) Get(ctx context.Context) (string, bool, error) {
	return s.backend.Get(ctx, s.key)
}

// Set stores value in the slot.
func (s *Slot) Set(ctx context.Context, value string) error {
	return s.backend.Set(ctx, s.key, value)
}

// Clear removes the slot value.
func (s *Slot) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, s.key)
}

// OnExternalChange calls fn whenever another instance changes the slot.
func (s *Slot) OnExternalChange(ctx context.Context, fn func(value string, present bool)) (func(), error) {
	return s.backend.Watch(ctx, func(c Change) {
		if c.Key == s.key {
			fn(c.Value, c.Present)
		}
	})
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Dir, logger)
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := NewRedisStore(client, cfg.Namespace, logger)
		store.ownsClient = true
		return store, nil
	case "memory":
		return NewArea().Context(), nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}
