package meta_test

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/store"
)

// newTestStore returns a meta.Store over a temporary SQLite database.
func newTestStore(t *testing.T) *meta.Store {
	t.Helper()
	s, err := store.New(t.TempDir() + "/meta.db")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return meta.New(meta.NewSQLite(s.DB()))
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing.key")
	if !errors.Is(err, meta.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestSetAndGet_Types(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		key  string
		in   any
		typ  meta.Type
		want any
	}{
		{"s", "hello", meta.TypeString, "hello"},
		{"i", 42, meta.TypeInt, int64(42)},
		{"i2", "17", meta.TypeInt, int64(17)},
		{"b", true, meta.TypeBool, true},
		{"b2", "no", meta.TypeBool, false},
		{"l", []any{"a", "b"}, meta.TypeList, []any{"a", "b"}},
		{"j", map[string]any{"n": 1.0}, meta.TypeJSON, map[string]any{"n": 1.0}},
	}
	for _, tc := range cases {
		if _, err := s.Set(ctx, tc.key, tc.in, tc.typ); err != nil {
			t.Fatalf("Set(%s): %v", tc.key, err)
		}
		got, err := s.Get(ctx, tc.key)
		if err != nil {
			t.Fatalf("Get(%s): %v", tc.key, err)
		}
		if got.Type != tc.typ {
			t.Errorf("%s: type %q, want %q", tc.key, got.Type, tc.typ)
		}
		if !reflect.DeepEqual(got.Value, tc.want) {
			t.Errorf("%s: value %#v, want %#v", tc.key, got.Value, tc.want)
		}
	}
}

func TestSetOverwriteChangesType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Set(ctx, "k", "1", meta.TypeString); err != nil {
		t.Fatalf("Set(1): %v", err)
	}
	if _, err := s.Set(ctx, "k", 1, meta.TypeInt); err != nil {
		t.Fatalf("Set(2): %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != meta.TypeInt || got.Value != int64(1) {
		t.Errorf("got %#v", got)
	}
}

func TestSet_InvalidBool(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Set(context.Background(), "b", "maybe", meta.TypeBool); err == nil {
		t.Fatal("expected error for non-boolean value")
	}
}

func TestParseType(t *testing.T) {
	if _, err := meta.ParseType("json"); err != nil {
		t.Fatalf("ParseType(json): %v", err)
	}
	if _, err := meta.ParseType("float"); !errors.Is(err, meta.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestBoolHelpers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Bool(ctx, meta.KeyIsSetup)
	if err != nil || got {
		t.Fatalf("missing bool: got %v, %v", got, err)
	}
	if err := s.SetBool(ctx, meta.KeyIsSetup, true); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	got, err = s.Bool(ctx, meta.KeyIsSetup)
	if err != nil || !got {
		t.Fatalf("after SetBool: got %v, %v", got, err)
	}
}

func TestTimeHelpers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Time(ctx, meta.KeyLastPulledRelease); !errors.Is(err, meta.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetTime(ctx, meta.KeyLastPulledRelease, now); err != nil {
		t.Fatalf("SetTime: %v", err)
	}
	got, err := s.Time(ctx, meta.KeyLastPulledRelease)
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(now) {
		t.Errorf("got %v, want %v", got, now)
	}
}

func TestDeleteAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"b", "a"} {
		if _, err := s.Set(ctx, k, k, meta.TypeString); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Key != "a" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete (idempotent): %v", err)
	}
	list, _ = s.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected 1 entry after delete, got %d", len(list))
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	b := meta.NewRedis(addr)
	t.Cleanup(func() { b.Close() })
	ctx := context.Background()
	if err := b.Ping(ctx); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	s := meta.New(b)
	key := "test." + time.Now().Format("150405.000000")
	t.Cleanup(func() { s.Delete(ctx, key) })

	if _, err := s.Set(ctx, key, true, meta.TypeBool); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Value != true {
		t.Errorf("got %#v", got.Value)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, meta.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSet_InvalidValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Set(ctx, "n", "twelve", meta.TypeInt); !errors.Is(err, meta.ErrInvalidValue) {
		t.Errorf("int from non-numeric string: expected ErrInvalidValue, got %v", err)
	}
	if _, err := s.Set(ctx, "b", "maybe", meta.TypeBool); !errors.Is(err, meta.ErrInvalidValue) {
		t.Errorf("bool from unknown literal: expected ErrInvalidValue, got %v", err)
	}
	if _, err := s.Set(ctx, "x", "v", meta.Type("blob")); !errors.Is(err, meta.ErrInvalidType) {
		t.Errorf("unknown type: expected ErrInvalidType, got %v", err)
	}
	if _, err := s.Get(ctx, "n"); !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("rejected value must not be stored, got %v", err)
	}
}
