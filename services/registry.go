package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"price-aggregator/models"
)

var (
	ErrConnectorExists  = errors.New("connector already registered")
	ErrConnectorUnnamed = errors.New("connector has no name")
)

// Entry describes one registered marketplace.
type Entry struct {
	Name       string              `json:"name"`
	Reputation float64             `json:"reputation"`
	Definition *models.Marketplace `json:"definition,omitempty"`
}

type registration struct {
	connector Connector
	entry     Entry
}

// Registry holds the connectors queried by the aggregator. Registration
// order is the query order.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*registration
	ordered []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registration)}
}

// Register adds conn. A reputation of zero keeps the built-in default.
func (r *Registry) Register(conn Connector, reputation float64) error {
	return r.add(conn, Entry{Reputation: reputation})
}

// RegisterMarketplace adds conn together with the definition it was built from.
func (r *Registry) RegisterMarketplace(conn Connector, def models.Marketplace) error {
	return r.add(conn, Entry{Reputation: def.Reputation, Definition: &def})
}

func (r *Registry) add(conn Connector, entry Entry) error {
	name := strings.ToLower(strings.TrimSpace(conn.Name()))
	if name == "" {
		return ErrConnectorUnnamed
	}
	entry.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrConnectorExists, name)
	}
	r.byName[name] = &registration{connector: conn, entry: entry}
	r.ordered = append(r.ordered, name)
	return nil
}

// Unregister removes a connector by name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return false
	}
	delete(r.byName, name)
	for i, n := range r.ordered {
		if n == name {
			r.ordered = append(r.ordered[:i:i], r.ordered[i+1:]...)
			break
		}
	}
	return true
}

// Connectors returns a snapshot in registration order.
func (r *Registry) Connectors() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connector, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.byName[name].connector)
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ordered...)
}

func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.ordered))
	for _, name := range r.ordered {
		out = append(out, r.byName[name].entry)
	}
	return out
}

// Reputation implements ReputationLookup. Only explicit, positive overrides
// are reported.
func (r *Registry) Reputation(marketplace string) (float64, bool) {
	name := strings.ToLower(strings.TrimSpace(marketplace))

	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	if !ok || reg.entry.Reputation <= 0 {
		return 0, false
	}
	return reg.entry.Reputation, true
}
