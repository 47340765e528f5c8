// Package meta is a small typed key/value store for runtime bookkeeping such
// as the release cache timestamp and the setup-complete flag.
//
// Values are stored as text plus a type tag (see Encode / Decode). The
// storage itself is pluggable: SQLite by default, Redis when configured.
package meta

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("meta: key not found")

	// ErrInvalidType is returned for an unknown type tag.
	ErrInvalidType = errors.New("meta: invalid type")

	// ErrInvalidValue is returned when a value cannot be stored as the
	// requested type.
	ErrInvalidValue = errors.New("meta: invalid value")
)

// Well-known keys.
const (
	KeyLastPulledRelease = "last_pulled_release"
	KeyIsSetup           = "is_setup"
)

// Entry is one stored row in its encoded form.
type Entry struct {
	Key       string
	Raw       string
	Type      Type
	UpdatedAt time.Time
}

// Backend persists encoded entries. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns ErrNotFound when key has not been set.
	Get(ctx context.Context, key string) (Entry, error)
	// Put creates or overwrites the entry.
	Put(ctx context.Context, e Entry) error
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	// List returns every entry ordered by key.
	List(ctx context.Context) ([]Entry, error)
}

// Value is a decoded entry.
type Value struct {
	Key       string    `json:"meta_key"`
	Value     any       `json:"meta_value"`
	Type      Type      `json:"meta_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store encodes and decodes typed values on top of a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
}

// New returns a Store over b.
func New(b Backend) *Store {
	return &Store{backend: b, now: time.Now}
}

// Set encodes value as t and stores it under key.
func (s *Store) Set(ctx context.Context, key string, value any, t Type) (Value, error) {
	raw, err := Encode(value, t)
	if err != nil {
		if errors.Is(err, ErrInvalidType) {
			return Value{}, err
		}
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	e := Entry{Key: key, Raw: raw, Type: t, UpdatedAt: s.now().UTC()}
	if err := s.backend.Put(ctx, e); err != nil {
		return Value{}, err
	}
	return decodeEntry(e)
}

// Get returns the decoded value for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Value, error) {
	e, err := s.backend.Get(ctx, key)
	if err != nil {
		return Value{}, err
	}
	return decodeEntry(e)
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// List returns every decoded value. Rows that fail to decode are returned
// with their raw text as the value.
func (s *Store) List(ctx context.Context) ([]Value, error) {
	entries, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(entries))
	for _, e := range entries {
		v, err := decodeEntry(e)
		if err != nil {
			v = Value{Key: e.Key, Value: e.Raw, Type: e.Type, UpdatedAt: e.UpdatedAt}
		}
		out = append(out, v)
	}
	return out, nil
}

// Bool returns the boolean stored under key. A missing key reads as false.
func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	e, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return truthy(e.Raw), nil
}

// SetBool stores b under key as a bool.
func (s *Store) SetBool(ctx context.Context, key string, b bool) error {
	_, err := s.Set(ctx, key, b, TypeBool)
	return err
}

// Time reads an RFC 3339 timestamp stored as a string. ErrNotFound is
// returned for a missing key.
func (s *Store) Time(ctx context.Context, key string) (time.Time, error) {
	e, err := s.backend.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, e.Raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("meta: %s is not a timestamp: %w", key, err)
	}
	return t, nil
}

// SetTime stores t under key as an RFC 3339 string.
func (s *Store) SetTime(ctx context.Context, key string, t time.Time) error {
	_, err := s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano), TypeString)
	return err
}

func decodeEntry(e Entry) (Value, error) {
	v, err := Decode(e.Raw, e.Type)
	if err != nil {
		return Value{}, fmt.Errorf("meta: %s: %w", e.Key, err)
	}
	return Value{Key: e.Key, Value: v, Type: e.Type, UpdatedAt: e.UpdatedAt}, nil
}
