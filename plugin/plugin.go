// Package plugin attaches a storage instance to a server core. On
// registration it builds one storage instance from the caller's
// configuration and publishes three capabilities on the core: the
// base storage handle, a prefix-view factory, and a snapshot/restore
// pair. The same three capabilities are visible on every request
// through the core's request decoration middleware, backed by the
// same shared instance. One shutdown hook tears the storage down.
package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/stephnangue/stash/core"
	"github.com/stephnangue/stash/logger"
	"github.com/stephnangue/stash/physical"
	"github.com/stephnangue/stash/physical/file"
	"github.com/stephnangue/stash/physical/inmem"
	"github.com/stephnangue/stash/physical/sqlite"
	"github.com/stephnangue/stash/storage"
)

// Decoration names published on the core and on each request
const (
	DecorationStorage         = "storage"
	DecorationStoragePrefix   = "storagePrefix"
	DecorationStorageSnapshot = "storageSnapshot"
)

const (
	pluginName    = "storage"
	pluginVersion = "1.0.0"
)

// builtinDrivers maps driver names to their factories
var builtinDrivers = map[string]physical.Factory{
	"inmem":  inmem.NewInmemDriver,
	"file":   file.NewFileDriver,
	"sqlite": sqlite.NewSQLiteDriver,
}

// PrefixFunc derives a prefix-scoped view of the shared storage
type PrefixFunc func(prefix string) storage.Store

// MountConfig attaches an extra driver at a base path
type MountConfig struct {
	Base    string
	Driver  string
	Options map[string]string
}

// Config holds the registration configuration
type Config struct {
	// Driver selects a built-in driver for the root mount
	Driver string

	// Options is passed through to the driver factory
	Options map[string]string

	// Factory overrides the built-in driver lookup when set
	Factory physical.Factory

	// Mounts lists extra drivers to attach at base paths
	Mounts []MountConfig

	// OnClose, when set, runs at shutdown before the storage is
	// torn down. Its failure is reported but never prevents the
	// teardown.
	OnClose func(ctx context.Context) error

	Logger logger.Logger
}

// StoragePlugin implements core.Plugin
type StoragePlugin struct {
	cfg   *Config
	store *storage.Storage
	log   logger.Logger
}

var _ core.Plugin = (*StoragePlugin)(nil)

// New builds the plugin from the given configuration
func New(cfg *Config) *StoragePlugin {
	if cfg == nil {
		cfg = &Config{Driver: "inmem"}
	}
	return &StoragePlugin{cfg: cfg}
}

func (p *StoragePlugin) Name() string {
	return pluginName
}

func (p *StoragePlugin) Version() string {
	return pluginVersion
}

// Store returns the shared storage instance once registered
func (p *StoragePlugin) Store() *storage.Storage {
	return p.store
}

// Register builds the storage instance and publishes the three
// capabilities. A driver configuration error aborts registration and
// leaves the core undecorated.
func (p *StoragePlugin) Register(ctx context.Context, c *core.Core) error {
	log := p.cfg.Logger
	if log == nil {
		log = c.Logger().WithSystem(pluginName)
	}
	p.log = log

	root, err := p.buildDriver(p.cfg.Driver, p.cfg.Options, log)
	if err != nil {
		return fmt.Errorf("failed to build root driver: %w", err)
	}

	store, err := storage.New(&storage.Config{Driver: root, Logger: log})
	if err != nil {
		return err
	}

	for _, mc := range p.cfg.Mounts {
		driver, err := p.buildDriver(mc.Driver, mc.Options, log.WithSystem(mc.Driver))
		if err != nil {
			_ = store.Dispose(ctx)
			return fmt.Errorf("failed to build driver for mount %q: %w", mc.Base, err)
		}
		if err := store.Mount(mc.Base, driver); err != nil {
			_ = store.Dispose(ctx)
			return fmt.Errorf("failed to mount %q: %w", mc.Base, err)
		}
	}

	p.store = store

	c.Decorate(DecorationStorage, storage.Store(store))
	c.Decorate(DecorationStoragePrefix, PrefixFunc(store.WithPrefix))
	c.Decorate(DecorationStorageSnapshot, &Snapshotter{store: store})
	c.OnShutdown(p.shutdown)

	return nil
}

func (p *StoragePlugin) buildDriver(name string, options map[string]string, log logger.Logger) (physical.Driver, error) {
	factory := p.cfg.Factory
	if factory == nil {
		var ok bool
		factory, ok = builtinDrivers[name]
		if !ok {
			return nil, fmt.Errorf("unknown driver type %q", name)
		}
	}
	return factory(options, logger.NewHCLogAdapter(log))
}

// shutdown runs the optional close callback and then tears the
// storage down. The teardown runs on every exit path; a callback
// failure is reported after it.
func (p *StoragePlugin) shutdown(ctx context.Context) (err error) {
	defer func() {
		if cerr := p.cleanup(ctx); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	if p.cfg.OnClose != nil {
		err = p.cfg.OnClose(ctx)
	}
	return err
}

// cleanup stops watches, unmounts every mounted driver wiping its
// persisted state, then disposes the instance. A failing unmount does
// not stop the remaining ones.
func (p *StoragePlugin) cleanup(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	p.store.UnwatchAll()

	var result *multierror.Error
	mounts := p.store.Mounts()
	for i := len(mounts) - 1; i >= 0; i-- {
		err := p.store.Unmount(ctx, mounts[i].Base, true)
		if err != nil && !errors.Is(err, storage.ErrNoMount) {
			result = multierror.Append(result, err)
		}
	}

	if err := p.store.Dispose(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	p.log.Info("storage plugin closed", logger.Int("unmounted", len(mounts)))
	return result.ErrorOrNil()
}
