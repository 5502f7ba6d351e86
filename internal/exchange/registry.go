// Package exchange holds the connector registry. Concrete connectors live
// in subpackages; the core only ever sees domain.ExchangeConnector.
package exchange

import (
	"fmt"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// Registry maps exchange names to connectors. It is populated once at wire
// time and read-only afterwards, so it needs no locking.
type Registry struct {
	connectors map[string]domain.ExchangeConnector
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]domain.ExchangeConnector)}
}

// Register adds a connector under its own name. Registering the same name
// twice is a wiring bug and returns an error.
func (r *Registry) Register(conn domain.ExchangeConnector) error {
	name := conn.Name()
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("exchange: %q already registered", name)
	}
	r.connectors[name] = conn
	return nil
}

// Get returns the connector for name.
func (r *Registry) Get(name string) (domain.ExchangeConnector, error) {
	conn, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("exchange: %q: %w", name, domain.ErrExchangeUnknown)
	}
	return conn, nil
}

// Subset returns the named connectors as a map, for handing a trader its
// own set of handles.
func (r *Registry) Subset(names []string) (map[string]domain.ExchangeConnector, error) {
	out := make(map[string]domain.ExchangeConnector, len(names))
	for _, n := range names {
		conn, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out[n] = conn
	}
	return out, nil
}

// All returns every registered connector.
func (r *Registry) All() []domain.ExchangeConnector {
	out := make([]domain.ExchangeConnector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	return out
}
