package core

import (
	"context"
	"errors"
	"sync"

	"github.com/stephnangue/stash/logger"
)

// Core is the long-lived server object plugins attach to. It carries
// named decorations (capabilities published by plugins), a plugin
// registry, and shutdown hooks run once when the server closes.
type Core struct {
	logger logger.Logger

	decMu       sync.RWMutex
	decorations map[string]interface{}

	pluginMu sync.Mutex
	plugins  map[string]Plugin

	hookMu sync.Mutex
	hooks  []ShutdownHook

	shutdownOnce sync.Once
	shutdownErr  error
}

// ShutdownHook runs during Core.Shutdown. Hooks run in reverse
// registration order.
type ShutdownHook func(ctx context.Context) error

// CoreConfig holds the configuration for a core
type CoreConfig struct {
	Logger logger.Logger
}

// NewCore returns a core ready for plugin registration
func NewCore(conf *CoreConfig) *Core {
	var log logger.Logger
	if conf != nil && conf.Logger != nil {
		log = conf.Logger
	} else {
		log = logger.NewZerologLogger(logger.DefaultConfig())
	}

	return &Core{
		logger:      log,
		decorations: make(map[string]interface{}),
		plugins:     make(map[string]Plugin),
	}
}

// Logger returns the core's logger
func (c *Core) Logger() logger.Logger {
	return c.logger
}

// Decorate publishes a named capability on the server object. The
// same value is later visible on every request via the request
// decoration middleware.
func (c *Core) Decorate(name string, value interface{}) {
	c.decMu.Lock()
	defer c.decMu.Unlock()
	c.decorations[name] = value
}

// Decoration returns the capability published under name
func (c *Core) Decoration(name string) (interface{}, bool) {
	c.decMu.RLock()
	defer c.decMu.RUnlock()
	value, ok := c.decorations[name]
	return value, ok
}

// RemoveDecoration withdraws a published capability
func (c *Core) RemoveDecoration(name string) {
	c.decMu.Lock()
	defer c.decMu.Unlock()
	delete(c.decorations, name)
}

// OnShutdown registers a hook to run when the server closes
func (c *Core) OnShutdown(hook ShutdownHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Shutdown runs every shutdown hook exactly once, in reverse
// registration order. Hook failures do not stop later hooks; all
// errors are reported together. Repeat calls return the first
// result.
func (c *Core) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.logger.Info("shutting down the core")

		c.hookMu.Lock()
		hooks := make([]ShutdownHook, len(c.hooks))
		copy(hooks, c.hooks)
		c.hookMu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			if err := hooks[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		c.shutdownErr = errors.Join(errs...)

		if c.shutdownErr != nil {
			c.logger.Error("core shutdown finished with errors", logger.Err(c.shutdownErr))
		} else {
			c.logger.Info("core shutdown successfully")
		}
	})
	return c.shutdownErr
}
