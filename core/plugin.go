package core

import (
	"context"
	"fmt"

	"github.com/stephnangue/stash/logger"
)

// Plugin is a component that attaches capabilities to the core. Name
// and Version identify the plugin; a name can only be registered
// once.
type Plugin interface {
	Name() string
	Version() string
	Register(ctx context.Context, c *Core) error
}

// RegisterPlugin runs the plugin's registration against this core. A
// registration error leaves the core untouched by that plugin.
func (c *Core) RegisterPlugin(ctx context.Context, p Plugin) error {
	c.pluginMu.Lock()
	defer c.pluginMu.Unlock()

	if _, exists := c.plugins[p.Name()]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}

	if err := p.Register(ctx, c); err != nil {
		return fmt.Errorf("failed to register plugin %q: %w", p.Name(), err)
	}
	c.plugins[p.Name()] = p

	c.logger.Info("plugin registered",
		logger.String("plugin", p.Name()),
		logger.String("version", p.Version()),
	)
	return nil
}

// Plugins returns the names of all registered plugins
func (c *Core) Plugins() []string {
	c.pluginMu.Lock()
	defer c.pluginMu.Unlock()

	names := make([]string, 0, len(c.plugins))
	for name := range c.plugins {
		names = append(names, name)
	}
	return names
}
