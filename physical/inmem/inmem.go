package inmem

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/armon/go-radix"
	"github.com/hashicorp/go-hclog"

	"github.com/stephnangue/stash/physical"
)

// Verify interfaces are satisfied
var (
	_ physical.Driver  = (*InmemDriver)(nil)
	_ physical.Watcher = (*InmemDriver)(nil)
	_ physical.Clearer = (*InmemDriver)(nil)
)

var ErrValueTooLarge = errors.New("value exceeds max_value_size")

// InmemDriver is an in-memory only driver. It is useful for testing
// and development situations where the data is not expected to be
// durable.
type InmemDriver struct {
	sync.RWMutex
	root         *radix.Tree
	logger       hclog.Logger
	maxValueSize int

	subMu     sync.Mutex
	subs      map[int]physical.WatchFunc
	nextSubID int
}

// NewInmemDriver constructs a new in-memory driver
func NewInmemDriver(conf map[string]string, logger hclog.Logger) (physical.Driver, error) {
	maxValueSize := 0
	if raw, ok := conf["max_value_size"]; ok {
		var err error
		maxValueSize, err = strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
	}

	return &InmemDriver{
		root:         radix.New(),
		logger:       logger,
		maxValueSize: maxValueSize,
		subs:         make(map[int]physical.WatchFunc),
	}, nil
}

// Put is used to insert or update an entry
func (i *InmemDriver) Put(ctx context.Context, entry *physical.Entry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if i.maxValueSize > 0 && len(entry.Value) > i.maxValueSize {
		return ErrValueTooLarge
	}

	i.Lock()
	i.root.Insert(entry.Key, append([]byte(nil), entry.Value...))
	i.Unlock()

	i.notify(physical.WatchUpdate, entry.Key)
	return nil
}

// Get is used to fetch an entry
func (i *InmemDriver) Get(ctx context.Context, key string) (*physical.Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	i.RLock()
	defer i.RUnlock()

	if raw, ok := i.root.Get(key); ok {
		return &physical.Entry{
			Key:   key,
			Value: append([]byte(nil), raw.([]byte)...),
		}, nil
	}
	return nil, nil
}

// Delete is used to permanently delete an entry
func (i *InmemDriver) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	i.Lock()
	_, existed := i.root.Delete(key)
	i.Unlock()

	if existed {
		i.notify(physical.WatchRemove, key)
	}
	return nil
}

// List is used to list all the keys under a given prefix, up to the
// next prefix.
func (i *InmemDriver) List(ctx context.Context, prefix string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	i.RLock()
	defer i.RUnlock()

	var out []string
	seen := make(map[string]struct{})
	i.root.WalkPrefix(prefix, func(s string, v interface{}) bool {
		trimmed := strings.TrimPrefix(s, prefix)
		if sep := strings.Index(trimmed, "/"); sep != -1 {
			// Include the directory suffix to distinguish keys from
			// subtrees.
			trimmed = trimmed[:sep+1]
		}
		if _, ok := seen[trimmed]; !ok {
			out = append(out, trimmed)
			seen[trimmed] = struct{}{}
		}
		return false
	})

	return out, nil
}

// Clear removes every entry under the given prefix
func (i *InmemDriver) Clear(ctx context.Context, prefix string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	i.Lock()
	var doomed []string
	i.root.WalkPrefix(prefix, func(s string, v interface{}) bool {
		doomed = append(doomed, s)
		return false
	})
	for _, key := range doomed {
		i.root.Delete(key)
	}
	i.Unlock()

	for _, key := range doomed {
		i.notify(physical.WatchRemove, key)
	}
	return nil
}

// Watch subscribes fn to every key change until the returned stop
// function is called.
func (i *InmemDriver) Watch(ctx context.Context, fn physical.WatchFunc) (func(), error) {
	i.subMu.Lock()
	id := i.nextSubID
	i.nextSubID++
	i.subs[id] = fn
	i.subMu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			i.subMu.Lock()
			delete(i.subs, id)
			i.subMu.Unlock()
		})
	}
	return stop, nil
}

func (i *InmemDriver) notify(op physical.WatchOp, key string) {
	i.subMu.Lock()
	fns := make([]physical.WatchFunc, 0, len(i.subs))
	for _, fn := range i.subs {
		fns = append(fns, fn)
	}
	i.subMu.Unlock()

	for _, fn := range fns {
		fn(op, key)
	}
}

// Close drops all entries and subscriptions
func (i *InmemDriver) Close() error {
	i.subMu.Lock()
	i.subs = make(map[int]physical.WatchFunc)
	i.subMu.Unlock()

	i.Lock()
	i.root = radix.New()
	i.Unlock()
	return nil
}
