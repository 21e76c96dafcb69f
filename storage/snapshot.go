package storage

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/oklog/ulid"
	"github.com/openbao/openbao/sdk/v2/helper/jsonutil"
)

// Snapshot is a point-in-time capture of every key/value pair under a
// base path. Keys are stored relative to the base so a snapshot can
// be restored somewhere else.
type Snapshot struct {
	ID      string            `json:"id"`
	Base    string            `json:"base"`
	TakenAt time.Time         `json:"taken_at"`
	Data    map[string][]byte `json:"data"`
}

// Snapshot captures every key under base at this moment. Values are
// deep-copied, so later mutation of the live data does not reach into
// the capture.
func (s *Storage) Snapshot(ctx context.Context, base string) (*Snapshot, error) {
	base = normalizeBase(base)
	now := time.Now().UTC()

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, err
	}

	keys, err := s.Keys(ctx, base)
	if err != nil {
		return nil, err
	}

	data := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to capture %q: %w", key, err)
		}
		if value == nil {
			data[key[len(base):]] = nil
			continue
		}
		copied, err := copystructure.Copy(value)
		if err != nil {
			return nil, err
		}
		data[key[len(base):]] = copied.([]byte)
	}

	return &Snapshot{
		ID:      id.String(),
		Base:    base,
		TakenAt: now,
		Data:    data,
	}, nil
}

// Restore writes the captured pairs back under base, or under the
// snapshot's own base when base is empty. Keys created after the
// capture are left in place; restore only sets what was captured.
func (s *Storage) Restore(ctx context.Context, snap *Snapshot, base string) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if base == "" {
		base = snap.Base
	} else {
		base = normalizeBase(base)
	}

	for key, value := range snap.Data {
		if err := s.Set(ctx, base+key, value); err != nil {
			return fmt.Errorf("failed to restore %q: %w", base+key, err)
		}
	}
	return nil
}

// EncodeSnapshot serializes a snapshot for transport or storage
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	return jsonutil.EncodeJSON(snap)
}

// DecodeSnapshot deserializes a snapshot produced by EncodeSnapshot
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := jsonutil.DecodeJSON(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
