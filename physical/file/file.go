package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/openbao/openbao/sdk/v2/helper/jsonutil"

	"github.com/stephnangue/stash/physical"
)

// Verify interfaces are satisfied
var (
	_ physical.Driver  = (*FileDriver)(nil)
	_ physical.Watcher = (*FileDriver)(nil)
	_ physical.Clearer = (*FileDriver)(nil)
)

var ErrPathContainsParentReferences = errors.New("path cannot contain parent references")

// FileDriver is a driver backed by the local filesystem. Each key
// becomes a file under the configured path, with "/" in keys mapping
// to directories. Leaf file names carry a "_" prefix so a key and a
// subtree with the same name can coexist.
type FileDriver struct {
	path   string
	logger hclog.Logger
	locks  []*physical.LockEntry

	watchMu  sync.Mutex
	watchers map[int]*fileWatcher
	nextID   int
}

type fileEntry struct {
	Value []byte `json:"value"`
}

// NewFileDriver constructs a driver rooted at the "path" config value
func NewFileDriver(conf map[string]string, logger hclog.Logger) (physical.Driver, error) {
	path, ok := conf["path"]
	if !ok || path == "" {
		return nil, errors.New("'path' must be set")
	}

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage path %q: %w", path, err)
	}

	return &FileDriver{
		path:     path,
		logger:   logger,
		locks:    physical.CreateLocks(),
		watchers: make(map[int]*fileWatcher),
	}, nil
}

func (f *FileDriver) validatePath(path string) error {
	switch {
	case strings.Contains(path, ".."):
		return ErrPathContainsParentReferences
	}
	return nil
}

// expandPath returns the directory and leaf file name for a key
func (f *FileDriver) expandPath(key string) (string, string) {
	path := filepath.Join(f.path, key)
	name := "_" + filepath.Base(path)
	return filepath.Dir(path), name
}

// Put is used to insert or update an entry
func (f *FileDriver) Put(ctx context.Context, entry *physical.Entry) error {
	if err := f.validatePath(entry.Key); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	lock := physical.LockForKey(f.locks, entry.Key)
	lock.Lock()
	defer lock.Unlock()

	parent, name := f.expandPath(entry.Key)
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return err
	}

	encoded, err := jsonutil.EncodeJSON(&fileEntry{Value: entry.Value})
	if err != nil {
		return err
	}

	// Write through a temp file so a crash mid-write never leaves a
	// truncated entry behind.
	tmp := filepath.Join(parent, name+".tmp")
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(parent, name))
}

// Get is used to fetch an entry
func (f *FileDriver) Get(ctx context.Context, key string) (*physical.Entry, error) {
	if err := f.validatePath(key); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	lock := physical.LockForKey(f.locks, key)
	lock.RLock()
	defer lock.RUnlock()

	parent, name := f.expandPath(key)
	raw, err := os.ReadFile(filepath.Join(parent, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry fileEntry
	if err := jsonutil.DecodeJSON(raw, &entry); err != nil {
		return nil, err
	}

	return &physical.Entry{
		Key:   key,
		Value: entry.Value,
	}, nil
}

// Delete is used to permanently delete an entry
func (f *FileDriver) Delete(ctx context.Context, key string) error {
	if err := f.validatePath(key); err != nil {
		return err
	}
	if key == "" {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	lock := physical.LockForKey(f.locks, key)
	lock.Lock()
	defer lock.Unlock()

	parent, name := f.expandPath(key)
	if err := os.Remove(filepath.Join(parent, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}

	f.cleanupEmptyDirs(parent)
	return nil
}

// cleanupEmptyDirs removes empty directories from the leaf upward so
// that List does not report empty subtrees.
func (f *FileDriver) cleanupEmptyDirs(dir string) {
	base, err := filepath.Abs(f.path)
	if err != nil {
		return
	}
	for {
		current, err := filepath.Abs(dir)
		if err != nil || current == base || !strings.HasPrefix(current, base) {
			return
		}
		entries, err := os.ReadDir(current)
		if err != nil || len(entries) != 0 {
			return
		}
		if err := os.Remove(current); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// List is used to list all the keys under a given prefix, up to the
// next prefix.
func (f *FileDriver) List(ctx context.Context, prefix string) ([]string, error) {
	if err := f.validatePath(prefix); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	path := f.path
	if prefix != "" {
		path = filepath.Join(path, prefix)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			out = append(out, name+"/")
		} else if strings.HasPrefix(name, "_") {
			out = append(out, name[1:])
		}
	}

	sort.Strings(out)
	return out, nil
}

// Clear removes every entry under the given prefix, including the
// persisted files.
func (f *FileDriver) Clear(ctx context.Context, prefix string) error {
	if err := f.validatePath(prefix); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if prefix == "" {
		// Wipe the children, not the root itself, so the driver
		// stays usable afterwards.
		entries, err := os.ReadDir(f.path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(f.path, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	return os.RemoveAll(filepath.Join(f.path, prefix))
}

// Close stops all watchers
func (f *FileDriver) Close() error {
	f.watchMu.Lock()
	watchers := make([]*fileWatcher, 0, len(f.watchers))
	for _, w := range f.watchers {
		watchers = append(watchers, w)
	}
	f.watchers = make(map[int]*fileWatcher)
	f.watchMu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	return nil
}
