package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"

	"github.com/stephnangue/stash/logger"
	"github.com/stephnangue/stash/physical"
)

var (
	ErrInvalidKey      = errors.New("key cannot be empty")
	ErrDisposed        = errors.New("storage has been disposed")
	ErrMountExists     = errors.New("a driver is already mounted at this base")
	ErrNoMount         = errors.New("no driver mounted at this base")
	ErrRootMountNeeded = errors.New("a root driver is required")
)

// Storage is a single instance of the storage engine: a set of
// drivers mounted at base paths, resolved by longest prefix. One
// instance is shared by every consumer; drivers are responsible for
// their own concurrency safety.
type Storage struct {
	l      sync.RWMutex
	mounts *iradix.Tree
	logger logger.Logger

	watchMu  sync.Mutex
	watches  map[int]func()
	nextSub  int
	disposed bool
}

// mountEntry ties a driver to the base path it serves
type mountEntry struct {
	base     string // "" for the root mount, otherwise "a/b/"
	accessor string
	driver   physical.Driver
}

// MountInfo describes a mounted driver
type MountInfo struct {
	Base     string `json:"base"`
	Accessor string `json:"accessor"`
}

// Config holds the configuration for a storage instance
type Config struct {
	// Driver serves every key not claimed by a deeper mount
	Driver physical.Driver

	Logger logger.Logger
}

// New creates a storage instance with the given root driver
func New(conf *Config) (*Storage, error) {
	if conf == nil || conf.Driver == nil {
		return nil, ErrRootMountNeeded
	}
	log := conf.Logger
	if log == nil {
		log = logger.NewZerologLogger(logger.DefaultConfig())
	}

	s := &Storage{
		mounts:  iradix.New(),
		logger:  log,
		watches: make(map[int]func()),
	}

	accessor, err := generateAccessor("root")
	if err != nil {
		return nil, err
	}
	root := &mountEntry{base: "", accessor: accessor, driver: conf.Driver}
	s.mounts, _, _ = s.mounts.Insert([]byte(""), root)

	return s, nil
}

// generateAccessor builds a short random identifier for a mount, in
// the form "<kind>_0a1b2c3d".
func generateAccessor(kind string) (string, error) {
	randBytes, err := uuid.GenerateRandomBytes(4)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%08x", kind, randBytes[0:4]), nil
}

// Mount attaches a driver at the given base path. The base must not
// already carry a mount.
func (s *Storage) Mount(base string, driver physical.Driver) error {
	if driver == nil {
		return errors.New("driver cannot be nil")
	}
	base = normalizeBase(base)
	if base == "" {
		return ErrMountExists
	}

	s.l.Lock()
	defer s.l.Unlock()
	if s.disposed {
		return ErrDisposed
	}

	if _, ok := s.mounts.Get([]byte(base)); ok {
		return ErrMountExists
	}

	accessor, err := generateAccessor("mount")
	if err != nil {
		return err
	}
	s.mounts, _, _ = s.mounts.Insert([]byte(base), &mountEntry{
		base:     base,
		accessor: accessor,
		driver:   driver,
	})

	s.logger.Info("driver mounted", logger.String("base", base), logger.String("accessor", accessor))
	return nil
}

// Unmount detaches the driver at the given base. With wipe set, any
// state the driver persisted is cleared first. The driver is closed
// if it supports closing.
func (s *Storage) Unmount(ctx context.Context, base string, wipe bool) error {
	base = normalizeBase(base)

	s.l.Lock()
	raw, ok := s.mounts.Get([]byte(base))
	if ok {
		s.mounts, _, _ = s.mounts.Delete([]byte(base))
	}
	s.l.Unlock()

	if !ok {
		return ErrNoMount
	}
	entry := raw.(*mountEntry)

	var result *multierror.Error
	if wipe {
		if clearer, ok := entry.driver.(physical.Clearer); ok {
			if err := clearer.Clear(ctx, ""); err != nil {
				result = multierror.Append(result, fmt.Errorf("failed to wipe mount %q: %w", base, err))
			}
		}
	}
	if closer, ok := entry.driver.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close mount %q: %w", base, err))
		}
	}

	s.logger.Info("driver unmounted", logger.String("base", base), logger.String("accessor", entry.accessor))
	return result.ErrorOrNil()
}

// Mounts returns every mount, root first, then by base path
func (s *Storage) Mounts() []MountInfo {
	s.l.RLock()
	defer s.l.RUnlock()

	out := make([]MountInfo, 0, s.mounts.Len())
	s.mounts.Root().Walk(func(k []byte, v interface{}) bool {
		entry := v.(*mountEntry)
		out = append(out, MountInfo{Base: entry.base, Accessor: entry.accessor})
		return false
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// resolve returns the deepest mount whose base prefixes the key, and
// the key relative to that mount.
func (s *Storage) resolve(key string) (*mountEntry, string, error) {
	s.l.RLock()
	defer s.l.RUnlock()
	if s.disposed {
		return nil, "", ErrDisposed
	}

	_, raw, ok := s.mounts.Root().LongestPrefix([]byte(key))
	if !ok {
		return nil, "", ErrNoMount
	}
	entry := raw.(*mountEntry)
	return entry, strings.TrimPrefix(key, entry.base), nil
}

// mountList snapshots the current mounts
func (s *Storage) mountList() []*mountEntry {
	s.l.RLock()
	defer s.l.RUnlock()

	out := make([]*mountEntry, 0, s.mounts.Len())
	s.mounts.Root().Walk(func(k []byte, v interface{}) bool {
		out = append(out, v.(*mountEntry))
		return false
	})
	return out
}

func (s *Storage) isMountBase(base string) bool {
	s.l.RLock()
	defer s.l.RUnlock()
	_, ok := s.mounts.Get([]byte(base))
	return ok
}

// Get fetches the value stored at key, or nil when absent
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	entry, rel, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	item, err := entry.driver.Get(ctx, rel)
	if err != nil || item == nil {
		return nil, err
	}
	return item.Value, nil
}

// Has reports whether a value is stored at key
func (s *Storage) Has(ctx context.Context, key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	entry, rel, err := s.resolve(key)
	if err != nil {
		return false, err
	}

	item, err := entry.driver.Get(ctx, rel)
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// Set stores value at key
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	entry, rel, err := s.resolve(key)
	if err != nil {
		return err
	}

	return entry.driver.Put(ctx, &physical.Entry{Key: rel, Value: value})
}

// Delete removes the value stored at key, if any
func (s *Storage) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	entry, rel, err := s.resolve(key)
	if err != nil {
		return err
	}

	return entry.driver.Delete(ctx, rel)
}

// Keys returns every key under base, across all mounts, sorted
func (s *Storage) Keys(ctx context.Context, base string) ([]string, error) {
	base = normalizeBase(base)

	// Every key under base resolves to the mount owning base, so any
	// shallower mount is fully shadowed there and must not be walked.
	owner, _, err := s.resolve(base)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, entry := range s.mountList() {
		var rel string
		switch {
		case strings.HasPrefix(base, entry.base):
			// base sits inside this mount
			if entry != owner {
				continue
			}
			rel = strings.TrimPrefix(base, entry.base)
		case strings.HasPrefix(entry.base, base):
			// the whole mount sits under base
			rel = ""
		default:
			continue
		}
		if err := s.walk(ctx, entry, rel, func(full string) {
			out = append(out, full)
		}); err != nil {
			return nil, err
		}
	}

	sort.Strings(out)
	return out, nil
}

// walk visits every key of a mount below rel, reporting full paths.
// Subtrees claimed by a deeper mount are skipped so shadowed keys do
// not show up twice.
func (s *Storage) walk(ctx context.Context, entry *mountEntry, rel string, visit func(full string)) error {
	children, err := entry.driver.List(ctx, rel)
	if err != nil {
		return err
	}
	for _, child := range children {
		if strings.HasSuffix(child, "/") {
			full := entry.base + rel + child
			if full != entry.base && s.isMountBase(full) {
				continue
			}
			if err := s.walk(ctx, entry, rel+child, visit); err != nil {
				return err
			}
			continue
		}
		visit(entry.base + rel + child)
	}
	return nil
}

// Clear removes every key under base
func (s *Storage) Clear(ctx context.Context, base string) error {
	base = normalizeBase(base)

	for _, entry := range s.mountList() {
		var rel string
		switch {
		case strings.HasPrefix(base, entry.base):
			rel = strings.TrimPrefix(base, entry.base)
		case strings.HasPrefix(entry.base, base):
			rel = ""
		default:
			continue
		}

		if clearer, ok := entry.driver.(physical.Clearer); ok {
			if err := clearer.Clear(ctx, rel); err != nil {
				return err
			}
			continue
		}

		// Fall back to walking and deleting key by key
		var keys []string
		if err := s.walk(ctx, entry, rel, func(full string) {
			keys = append(keys, strings.TrimPrefix(full, entry.base))
		}); err != nil {
			return err
		}
		for _, key := range keys {
			if err := entry.driver.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watch subscribes fn to key changes on every watch-capable mount.
// The returned stop function cancels this subscription; UnwatchAll
// cancels every active one.
func (s *Storage) Watch(ctx context.Context, fn physical.WatchFunc) (func(), error) {
	s.l.RLock()
	disposed := s.disposed
	s.l.RUnlock()
	if disposed {
		return nil, ErrDisposed
	}

	var stops []func()
	for _, entry := range s.mountList() {
		watcher, ok := entry.driver.(physical.Watcher)
		if !ok {
			continue
		}
		base := entry.base
		stop, err := watcher.Watch(ctx, func(op physical.WatchOp, key string) {
			fn(op, base+key)
		})
		if err != nil {
			for _, prior := range stops {
				prior()
			}
			return nil, err
		}
		stops = append(stops, stop)
	}

	var once sync.Once
	stopAll := func() {
		once.Do(func() {
			for _, stop := range stops {
				stop()
			}
		})
	}

	s.watchMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.watches[id] = stopAll
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watches, id)
		s.watchMu.Unlock()
		stopAll()
	}, nil
}

// UnwatchAll stops every active watch subscription. It is safe to
// call when nothing is watching.
func (s *Storage) UnwatchAll() {
	s.watchMu.Lock()
	stops := make([]func(), 0, len(s.watches))
	for _, stop := range s.watches {
		stops = append(stops, stop)
	}
	s.watches = make(map[int]func())
	s.watchMu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Dispose stops all watches and closes every mounted driver. The
// instance rejects further operations afterwards.
func (s *Storage) Dispose(ctx context.Context) error {
	s.UnwatchAll()

	s.l.Lock()
	if s.disposed {
		s.l.Unlock()
		return nil
	}
	s.disposed = true
	entries := make([]*mountEntry, 0, s.mounts.Len())
	s.mounts.Root().Walk(func(k []byte, v interface{}) bool {
		entries = append(entries, v.(*mountEntry))
		return false
	})
	s.mounts = iradix.New()
	s.l.Unlock()

	var result *multierror.Error
	for _, entry := range entries {
		if closer, ok := entry.driver.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("failed to close mount %q: %w", entry.base, err))
			}
		}
	}

	s.logger.Info("storage disposed", logger.Int("mounts", len(entries)))
	return result.ErrorOrNil()
}

// normalizeKey collapses repeated separators and strips the leading
// slash. Empty keys are invalid.
func normalizeKey(key string) (string, error) {
	key = normalizePath(key)
	if key == "" || strings.HasSuffix(key, "/") {
		return "", ErrInvalidKey
	}
	return key, nil
}

// normalizeBase returns "" or a path with a trailing slash
func normalizeBase(base string) string {
	base = normalizePath(base)
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func normalizePath(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimPrefix(p, "/")
}
