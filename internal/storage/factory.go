package storage

import (
	"context"
	"fmt"

	"lettercast/internal/common/errors"
)

// Factory creates a Store from an opaque config map. Backends register
// themselves so the selection in config stays a plain string.
type Factory func(ctx context.Context, config map[string]string) (Store, error)

var factories = map[string]Factory{}

// Register adds a backend factory under a name. Called from backend
// package init or wiring code.
func Register(name string, factory Factory) {
	factories[name] = factory
}

// New creates a Store for the named backend.
func New(ctx context.Context, name string, config map[string]string) (Store, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", name))
	}
	return factory(ctx, config)
}
