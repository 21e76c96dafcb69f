package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/stash/physical"
	"github.com/stephnangue/stash/physical/inmem"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	driver, err := inmem.NewInmemDriver(nil, hclog.NewNullLogger())
	require.NoError(t, err)

	s, err := New(&Config{Driver: driver})
	require.NoError(t, err)
	return s
}

func newTestDriver(t *testing.T) physical.Driver {
	t.Helper()

	driver, err := inmem.NewInmemDriver(nil, hclog.NewNullLogger())
	require.NoError(t, err)
	return driver
}

// TestStorage_New tests instance construction
func TestStorage_New(t *testing.T) {
	t.Run("requires a root driver", func(t *testing.T) {
		_, err := New(nil)
		require.ErrorIs(t, err, ErrRootMountNeeded)

		_, err = New(&Config{})
		require.ErrorIs(t, err, ErrRootMountNeeded)
	})

	t.Run("starts with the root mount", func(t *testing.T) {
		s := newTestStorage(t)

		mounts := s.Mounts()
		require.Len(t, mounts, 1)
		assert.Equal(t, "", mounts[0].Base)
		assert.Regexp(t, `^root_[0-9a-f]{8}$`, mounts[0].Accessor)
	})
}

// TestStorage_BasicOperations tests get/set/has/delete on the root mount
func TestStorage_BasicOperations(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Absent key reads as nil without error
	value, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, value)

	has, err := s.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, has)

	// Set then read back
	require.NoError(t, s.Set(ctx, "app/config", []byte("v1")))

	value, err = s.Get(ctx, "app/config")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), value)

	has, err = s.Has(ctx, "app/config")
	require.NoError(t, err)
	assert.True(t, has)

	// Overwrite
	require.NoError(t, s.Set(ctx, "app/config", []byte("v2")))
	value, err = s.Get(ctx, "app/config")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)

	// Delete is idempotent
	require.NoError(t, s.Delete(ctx, "app/config"))
	require.NoError(t, s.Delete(ctx, "app/config"))

	has, err = s.Has(ctx, "app/config")
	require.NoError(t, err)
	assert.False(t, has)
}

// TestStorage_KeyNormalization tests separator collapsing and key validation
func TestStorage_KeyNormalization(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "/a//b/c", []byte("v")))

	value, err := s.Get(ctx, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)

	_, err = s.Get(ctx, "")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = s.Get(ctx, "trailing/")
	require.ErrorIs(t, err, ErrInvalidKey)

	err = s.Set(ctx, "//", []byte("v"))
	require.ErrorIs(t, err, ErrInvalidKey)
}

// TestStorage_Mount tests mounting and routing
func TestStorage_Mount(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	cache := newTestDriver(t)
	require.NoError(t, s.Mount("cache", cache))

	// Keys under the mount route to its driver, relative to the base
	require.NoError(t, s.Set(ctx, "cache/sessions/abc", []byte("s1")))

	item, err := cache.Get(ctx, "sessions/abc")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("s1"), item.Value)

	// Keys outside the mount stay on the root driver
	require.NoError(t, s.Set(ctx, "other/key", []byte("r1")))
	item, err = cache.Get(ctx, "other/key")
	require.NoError(t, err)
	assert.Nil(t, item)

	value, err := s.Get(ctx, "other/key")
	require.NoError(t, err)
	assert.Equal(t, []byte("r1"), value)
}

// TestStorage_Mount_Deepest tests longest-prefix resolution
func TestStorage_Mount_Deepest(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	outer := newTestDriver(t)
	inner := newTestDriver(t)
	require.NoError(t, s.Mount("data", outer))
	require.NoError(t, s.Mount("data/hot", inner))

	require.NoError(t, s.Set(ctx, "data/cold/key", []byte("outer")))
	require.NoError(t, s.Set(ctx, "data/hot/key", []byte("inner")))

	item, err := outer.Get(ctx, "cold/key")
	require.NoError(t, err)
	require.NotNil(t, item)

	item, err = inner.Get(ctx, "key")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("inner"), item.Value)

	// The outer driver never saw the inner mount's key
	item, err = outer.Get(ctx, "hot/key")
	require.NoError(t, err)
	assert.Nil(t, item)
}

// TestStorage_Mount_Conflicts tests duplicate mount rejection
func TestStorage_Mount_Conflicts(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Mount("dup", newTestDriver(t)))
	require.ErrorIs(t, s.Mount("dup", newTestDriver(t)), ErrMountExists)
	require.ErrorIs(t, s.Mount("dup/", newTestDriver(t)), ErrMountExists)

	// Root is always taken
	require.ErrorIs(t, s.Mount("", newTestDriver(t)), ErrMountExists)

	require.Error(t, s.Mount("nil", nil))
}

// TestStorage_Unmount tests detach, wipe and close behavior
func TestStorage_Unmount(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	driver := newTestDriver(t)
	require.NoError(t, s.Mount("tmp", driver))
	require.NoError(t, s.Set(ctx, "tmp/key", []byte("v")))

	require.NoError(t, s.Unmount(ctx, "tmp", true))

	// The wipe cleared the driver's state
	item, err := driver.Get(ctx, "key")
	require.NoError(t, err)
	assert.Nil(t, item)

	// Unmounting again reports no mount
	require.ErrorIs(t, s.Unmount(ctx, "tmp", false), ErrNoMount)

	// Keys previously routed to the mount fall back to the root driver
	value, err := s.Get(ctx, "tmp/key")
	require.NoError(t, err)
	assert.Nil(t, value)
}

// TestStorage_Mounts tests mount enumeration
func TestStorage_Mounts(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.Mount("b", newTestDriver(t)))
	require.NoError(t, s.Mount("a", newTestDriver(t)))

	mounts := s.Mounts()
	require.Len(t, mounts, 3)
	assert.Equal(t, "", mounts[0].Base)
	assert.Equal(t, "a/", mounts[1].Base)
	assert.Equal(t, "b/", mounts[2].Base)
}

// TestStorage_Keys tests key enumeration across mounts
func TestStorage_Keys(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Mount("cache", newTestDriver(t)))

	require.NoError(t, s.Set(ctx, "app/a", []byte("1")))
	require.NoError(t, s.Set(ctx, "app/sub/b", []byte("2")))
	require.NoError(t, s.Set(ctx, "cache/c", []byte("3")))
	require.NoError(t, s.Set(ctx, "cache/sub/d", []byte("4")))

	t.Run("all keys", func(t *testing.T) {
		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"app/a", "app/sub/b", "cache/c", "cache/sub/d"}, keys)
	})

	t.Run("scoped to a base", func(t *testing.T) {
		keys, err := s.Keys(ctx, "app")
		require.NoError(t, err)
		assert.Equal(t, []string{"app/a", "app/sub/b"}, keys)
	})

	t.Run("scoped inside a mount", func(t *testing.T) {
		keys, err := s.Keys(ctx, "cache/sub")
		require.NoError(t, err)
		assert.Equal(t, []string{"cache/sub/d"}, keys)
	})

	t.Run("empty base path", func(t *testing.T) {
		keys, err := s.Keys(ctx, "nothing/here")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

// TestStorage_Keys_Shadowed tests that keys on a parent mount under a
// deeper mount's base do not leak into enumeration
func TestStorage_Keys_Shadowed(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Write to the root driver at a path that a mount will claim
	require.NoError(t, s.Set(ctx, "cache/stale", []byte("old")))

	require.NoError(t, s.Mount("cache", newTestDriver(t)))
	require.NoError(t, s.Set(ctx, "cache/fresh", []byte("new")))

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache/fresh"}, keys)
}

func TestStorage_Keys_ShadowedScoped(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// Leftover root-driver state under a path a mount then claims
	require.NoError(t, s.Set(ctx, "cache/stale", []byte("old")))
	require.NoError(t, s.Set(ctx, "cache/sub/stale", []byte("old")))

	require.NoError(t, s.Mount("cache", newTestDriver(t)))
	require.NoError(t, s.Set(ctx, "cache/fresh", []byte("new")))
	require.NoError(t, s.Set(ctx, "cache/sub/fresh", []byte("new")))

	// The shadowed keys read as absent
	val, err := s.Get(ctx, "cache/stale")
	require.NoError(t, err)
	assert.Nil(t, val)

	// Enumeration scoped at the mount base must agree with reads
	keys, err := s.Keys(ctx, "cache")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache/fresh", "cache/sub/fresh"}, keys)

	// Same below the mount base
	keys, err = s.Keys(ctx, "cache/sub")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache/sub/fresh"}, keys)
}

// TestStorage_Clear tests subtree removal
func TestStorage_Clear(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Mount("cache", newTestDriver(t)))

	require.NoError(t, s.Set(ctx, "app/a", []byte("1")))
	require.NoError(t, s.Set(ctx, "app/sub/b", []byte("2")))
	require.NoError(t, s.Set(ctx, "cache/c", []byte("3")))

	t.Run("scoped clear", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx, "app"))

		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"cache/c"}, keys)
	})

	t.Run("full clear spans mounts", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "root-key", []byte("r")))
		require.NoError(t, s.Clear(ctx, ""))

		keys, err := s.Keys(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

// TestStorage_Watch tests change fan-out with mount base rewriting
func TestStorage_Watch(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Mount("cache", newTestDriver(t)))

	type event struct {
		op  physical.WatchOp
		key string
	}
	var mu sync.Mutex
	var events []event

	stop, err := s.Watch(ctx, func(op physical.WatchOp, key string) {
		mu.Lock()
		events = append(events, event{op, key})
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "root-key", []byte("v")))
	require.NoError(t, s.Set(ctx, "cache/entry", []byte("v")))
	require.NoError(t, s.Delete(ctx, "cache/entry"))

	mu.Lock()
	got := append([]event(nil), events...)
	mu.Unlock()

	// Mount-relative keys are reported with the mount base restored
	require.Equal(t, []event{
		{physical.WatchUpdate, "root-key"},
		{physical.WatchUpdate, "cache/entry"},
		{physical.WatchRemove, "cache/entry"},
	}, got)

	// Stopping ends delivery; stop is idempotent
	stop()
	stop()

	require.NoError(t, s.Set(ctx, "root-key2", []byte("v")))

	mu.Lock()
	count := len(events)
	mu.Unlock()
	assert.Equal(t, 3, count)
}

// TestStorage_UnwatchAll tests bulk subscription teardown
func TestStorage_UnwatchAll(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	for i := 0; i < 3; i++ {
		_, err := s.Watch(ctx, func(op physical.WatchOp, key string) {
			mu.Lock()
			count++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	s.UnwatchAll()

	require.NoError(t, s.Set(ctx, "key", []byte("v")))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)

	// Safe to call again with nothing watching
	s.UnwatchAll()
}

// TestStorage_Dispose tests terminal shutdown of an instance
func TestStorage_Dispose(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Mount("cache", newTestDriver(t)))
	require.NoError(t, s.Set(ctx, "key", []byte("v")))

	require.NoError(t, s.Dispose(ctx))

	// All operations fail once disposed
	_, err := s.Get(ctx, "key")
	require.ErrorIs(t, err, ErrDisposed)

	err = s.Set(ctx, "key", []byte("v"))
	require.ErrorIs(t, err, ErrDisposed)

	_, err = s.Keys(ctx, "")
	require.ErrorIs(t, err, ErrDisposed)

	_, err = s.Watch(ctx, func(op physical.WatchOp, key string) {})
	require.ErrorIs(t, err, ErrDisposed)

	err = s.Mount("late", newTestDriver(t))
	require.ErrorIs(t, err, ErrDisposed)

	// Dispose is idempotent
	require.NoError(t, s.Dispose(ctx))
}

// TestStorage_NormalizeBase tests base path normalization
func TestStorage_NormalizeBase(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"", ""},
		{"/", ""},
		{"a", "a/"},
		{"a/", "a/"},
		{"/a//b", "a/b/"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizeBase(tt.in), "normalizeBase(%q)", tt.in)
	}
}
