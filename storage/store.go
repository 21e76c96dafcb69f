package storage

import (
	"context"
	"strings"
)

// Store is the item-operation surface of a storage handle. Both the
// storage instance itself and prefix views satisfy it, so consumers
// never need to know which one they hold.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, base string) ([]string, error)
	Clear(ctx context.Context, base string) error

	// WithPrefix derives a view that prepends prefix to every key
	WithPrefix(prefix string) Store
}

var (
	_ Store = (*Storage)(nil)
	_ Store = (*prefixStore)(nil)
)

// WithPrefix derives a prefix-scoped view over this instance. The
// view is stateless: it prepends the prefix to every key and
// delegates, nothing more.
func (s *Storage) WithPrefix(prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixStore{parent: s, prefix: prefix}
}

type prefixStore struct {
	parent Store
	prefix string
}

func (p *prefixStore) Get(ctx context.Context, key string) ([]byte, error) {
	return p.parent.Get(ctx, p.prefix+key)
}

func (p *prefixStore) Set(ctx context.Context, key string, value []byte) error {
	return p.parent.Set(ctx, p.prefix+key, value)
}

func (p *prefixStore) Has(ctx context.Context, key string) (bool, error) {
	return p.parent.Has(ctx, p.prefix+key)
}

func (p *prefixStore) Delete(ctx context.Context, key string) error {
	return p.parent.Delete(ctx, p.prefix+key)
}

func (p *prefixStore) Keys(ctx context.Context, base string) ([]string, error) {
	keys, err := p.parent.Keys(ctx, p.prefix+base)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, p.prefix))
	}
	return out, nil
}

func (p *prefixStore) Clear(ctx context.Context, base string) error {
	return p.parent.Clear(ctx, p.prefix+base)
}

func (p *prefixStore) WithPrefix(prefix string) Store {
	if prefix == "" {
		return p
	}
	return &prefixStore{parent: p.parent, prefix: p.prefix + prefix}
}
