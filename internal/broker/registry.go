package broker

import (
	"github.com/CasinoHe/quanttrader-sub000/internal/logger"
	"github.com/CasinoHe/quanttrader-sub000/pkg/errors"
)

// Constructor builds a broker variant from configuration.
type Constructor func(cfg Config, log *logger.Logger) (Broker, error)

// Registry maps broker kind names to constructors. It is an explicit value
// built once in the composition root, not package-level state.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds a kind name to a constructor, overwriting any previous
// binding.
func (r *Registry) Register(kind string, c Constructor) {
	r.constructors[kind] = c
}

// Create builds the broker registered under kind.
func (r *Registry) Create(kind string, cfg Config, log *logger.Logger) (Broker, error) {
	c, ok := r.constructors[kind]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownBrokerKind, "unknown broker kind %q", kind)
	}

	return c(cfg, log)
}

// DefaultRegistry returns a registry with the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindSimulated, func(cfg Config, log *logger.Logger) (Broker, error) {
		return NewSimulatedBroker(cfg, log), nil
	})

	return r
}
