// Package registry provides memoization for imported component classes.
// Importing a mechanism is pure in its source and options, so repeated
// lookups of the same component skip the full parse and regime synthesis.
// An optional sqlite store persists imported artifacts across processes.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nineml-xyz/go-nineml/dynamics"
	"github.com/nineml-xyz/go-nineml/nmodl"
	"github.com/nineml-xyz/go-nineml/parser"
)

// Registry caches import results keyed by component name and import
// options.
type Registry struct {
	mu     sync.RWMutex
	cache  map[string]*dynamics.Dynamics
	store  *Store
	log    zerolog.Logger
	hits   int64
	misses int64
}

// Option configures a Registry.
type Option func(*Registry) error

// WithStore attaches a persistent sqlite artifact store at the given DSN.
func WithStore(dsn string) Option {
	return func(r *Registry) error {
		store, err := OpenStore(dsn)
		if err != nil {
			return err
		}
		r.store = store
		return nil
	}
}

// WithLogger sets the registry's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) error {
		r.log = log
		return nil
	}
}

// New creates a registry.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		cache: make(map[string]*dynamics.Dynamics),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Close releases the persistent store, if any.
func (r *Registry) Close() error {
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// cacheKey fingerprints a (name, options) pair. The logger carried by the
// options does not affect the imported artifact and is excluded.
func cacheKey(name string, opts nmodl.ImportOptions) string {
	return fmt.Sprintf("%s|mv=%t|fk=%t", name, opts.AddMembraneVoltage, opts.FlattenKinetics)
}

// GetOrImport returns the cached component class for (name, opts),
// importing the source file at path on a miss.
func (r *Registry) GetOrImport(name, path string, opts nmodl.ImportOptions) (*dynamics.Dynamics, error) {
	key := cacheKey(name, opts)

	r.mu.RLock()
	d, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		r.mu.Lock()
		r.hits++
		r.mu.Unlock()
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have imported while we waited for the write lock.
	if d, ok := r.cache[key]; ok {
		r.hits++
		return d, nil
	}
	r.misses++

	if r.store != nil {
		data, err := r.store.Load(key)
		if err != nil {
			return nil, fmt.Errorf("registry: load %q: %w", key, err)
		}
		if data != nil {
			d, err := parser.FromJSON(data)
			if err != nil {
				return nil, fmt.Errorf("registry: stored artifact %q: %w", key, err)
			}
			r.cache[key] = d
			r.log.Debug().Str("component", name).Msg("loaded artifact from store")
			return d, nil
		}
	}

	if opts.Name == "" {
		opts.Name = name
	}
	d, err := nmodl.ImportFile(path, opts)
	if err != nil {
		return nil, err
	}
	r.cache[key] = d
	if r.store != nil {
		data, err := parser.ToJSON(d)
		if err != nil {
			return nil, fmt.Errorf("registry: serialize %q: %w", key, err)
		}
		if err := r.store.Save(key, d.ID.String(), name, data); err != nil {
			return nil, fmt.Errorf("registry: save %q: %w", key, err)
		}
	}
	r.log.Debug().Str("component", name).Msg("imported component class")
	return d, nil
}

// Invalidate drops every cached entry for the named component, in memory
// and in the persistent store. Source changes are not detected
// automatically; callers invalidate explicitly.
func (r *Registry) Invalidate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if strings.HasPrefix(key, name+"|") {
			delete(r.cache, key)
		}
	}
	if r.store != nil {
		return r.store.DeleteByName(name)
	}
	return nil
}

// Clear drops all cached entries and resets the counters. The persistent
// store is left intact.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*dynamics.Dynamics)
	r.hits = 0
	r.misses = 0
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Stats returns a snapshot of the registry's counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Hits: r.hits, Misses: r.misses, Size: len(r.cache)}
}
