package plugin

import (
	"context"

	"github.com/stephnangue/stash/storage"
)

// Snapshotter bundles the snapshot capability's two operations: Take
// captures every key under a base path, Restore writes a capture
// back. It operates on the same shared storage instance as every
// other decoration.
type Snapshotter struct {
	store *storage.Storage
}

// Take captures every key/value pair under base
func (sn *Snapshotter) Take(ctx context.Context, base string) (*storage.Snapshot, error) {
	return sn.store.Snapshot(ctx, base)
}

// Restore writes the capture back under base, or under the
// snapshot's own base when base is empty
func (sn *Snapshotter) Restore(ctx context.Context, snap *storage.Snapshot, base string) error {
	return sn.store.Restore(ctx, snap, base)
}
