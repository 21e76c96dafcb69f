package plugin

import (
	"context"

	"github.com/stephnangue/stash/core"
	"github.com/stephnangue/stash/storage"
)

// ServerStorage returns the storage handle published on the core
func ServerStorage(c *core.Core) (storage.Store, bool) {
	raw, ok := c.Decoration(DecorationStorage)
	if !ok {
		return nil, false
	}
	store, ok := raw.(storage.Store)
	return store, ok
}

// ServerPrefix returns the prefix-view factory published on the core
func ServerPrefix(c *core.Core) (PrefixFunc, bool) {
	raw, ok := c.Decoration(DecorationStoragePrefix)
	if !ok {
		return nil, false
	}
	fn, ok := raw.(PrefixFunc)
	return fn, ok
}

// ServerSnapshotter returns the snapshot capability published on the core
func ServerSnapshotter(c *core.Core) (*Snapshotter, bool) {
	raw, ok := c.Decoration(DecorationStorageSnapshot)
	if !ok {
		return nil, false
	}
	sn, ok := raw.(*Snapshotter)
	return sn, ok
}

// RequestStorage returns the storage handle from a decorated request
// context. It is the same instance the server-level accessor returns.
func RequestStorage(ctx context.Context) (storage.Store, bool) {
	raw, ok := core.RequestDecoration(ctx, DecorationStorage)
	if !ok {
		return nil, false
	}
	store, ok := raw.(storage.Store)
	return store, ok
}

// RequestPrefix returns the prefix-view factory from a decorated
// request context
func RequestPrefix(ctx context.Context) (PrefixFunc, bool) {
	raw, ok := core.RequestDecoration(ctx, DecorationStoragePrefix)
	if !ok {
		return nil, false
	}
	fn, ok := raw.(PrefixFunc)
	return fn, ok
}

// RequestSnapshotter returns the snapshot capability from a decorated
// request context
func RequestSnapshotter(ctx context.Context) (*Snapshotter, bool) {
	raw, ok := core.RequestDecoration(ctx, DecorationStorageSnapshot)
	if !ok {
		return nil, false
	}
	sn, ok := raw.(*Snapshotter)
	return sn, ok
}
