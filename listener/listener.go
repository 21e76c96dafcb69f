// Package listener defines the network listeners that serve the API.
package listener

import "context"

// Listener is a network endpoint serving requests against the core.
type Listener interface {
	// Type identifies the listener kind, e.g. "api".
	Type() string

	// Addr returns the configured listen address.
	Addr() string

	// Start serves until the context is cancelled or the listener
	// fails. A cancelled context stops the listener and returns nil.
	Start(ctx context.Context) error

	// Stop shuts the listener down. Safe to call more than once.
	Stop() error
}
