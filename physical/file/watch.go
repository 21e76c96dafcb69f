package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stephnangue/stash/physical"
)

// fileWatcher bridges fsnotify events back to key-change callbacks.
// fsnotify does not watch recursively, so directories are added as
// they appear.
type fileWatcher struct {
	driver  *FileDriver
	fsw     *fsnotify.Watcher
	fn      physical.WatchFunc
	done    chan struct{}
	stopped sync.Once
}

// Watch subscribes fn to key changes observed on disk. The returned
// stop function cancels the subscription.
func (f *FileDriver) Watch(ctx context.Context, fn physical.WatchFunc) (func(), error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &fileWatcher{
		driver: f,
		fsw:    fsw,
		fn:     fn,
		done:   make(chan struct{}),
	}

	if err := w.addRecursive(f.path); err != nil {
		fsw.Close()
		return nil, err
	}

	f.watchMu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = w
	f.watchMu.Unlock()

	go w.run(ctx)

	stop := func() {
		f.watchMu.Lock()
		delete(f.watchers, id)
		f.watchMu.Unlock()
		w.stop()
	}
	return stop, nil
}

func (w *fileWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *fileWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *fileWatcher) handle(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.fsw.Add(event.Name)
			return
		}
	}

	key, ok := w.keyForPath(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		w.fn(physical.WatchRemove, key)
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		w.fn(physical.WatchUpdate, key)
	}
}

// keyForPath maps an on-disk file path back to its key. Non-entry
// files (temp files, directories) report no key.
func (w *fileWatcher) keyForPath(path string) (string, bool) {
	rel, err := filepath.Rel(w.driver.path, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	base := filepath.Base(rel)
	if !strings.HasPrefix(base, "_") || strings.HasSuffix(base, ".tmp") {
		return "", false
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		return base[1:], true
	}
	return dir + "/" + base[1:], true
}

func (w *fileWatcher) stop() {
	w.stopped.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}
