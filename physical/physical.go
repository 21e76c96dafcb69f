package physical

import (
	"context"

	"github.com/hashicorp/go-hclog"
)

// Entry is used to represent data stored by the physical layer
type Entry struct {
	Key   string
	Value []byte
}

// Driver is the contract a storage medium must satisfy to be mounted
// into a storage instance. Keys use "/" as the path separator. A Get
// of an absent key returns (nil, nil).
type Driver interface {
	// Put is used to insert or update an entry
	Put(ctx context.Context, entry *Entry) error

	// Get is used to fetch an entry
	Get(ctx context.Context, key string) (*Entry, error)

	// Delete is used to permanently delete an entry
	Delete(ctx context.Context, key string) error

	// List is used to list all the keys under a given prefix, up to
	// the next prefix. Sub-prefixes carry a trailing "/".
	List(ctx context.Context, prefix string) ([]string, error)
}

// WatchOp identifies the kind of change observed by a watcher.
type WatchOp int

const (
	WatchUpdate WatchOp = iota
	WatchRemove
)

// String returns the string representation of WatchOp
func (op WatchOp) String() string {
	if op == WatchRemove {
		return "remove"
	}
	return "update"
}

// WatchFunc is invoked for every observed key change.
type WatchFunc func(op WatchOp, key string)

// Watcher is an optional interface for drivers that can report key
// changes. The returned stop function cancels the subscription and
// must be safe to call more than once.
type Watcher interface {
	Watch(ctx context.Context, fn WatchFunc) (stop func(), err error)
}

// Clearer is an optional interface for drivers that can remove every
// entry under a prefix in one call, including persisted state.
type Clearer interface {
	Clear(ctx context.Context, prefix string) error
}

// Factory is the factory function to create a driver from its
// configuration map.
type Factory func(conf map[string]string, logger hclog.Logger) (Driver, error)
