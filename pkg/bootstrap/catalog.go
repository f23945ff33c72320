package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/servicecore/pkg/imports"
	"github.com/openfroyo/servicecore/pkg/registry"
)

// Deps is what a constructor may reach while building its service.
type Deps struct {
	Registry *registry.Registry
	Imports  *imports.Manager
	Logger   zerolog.Logger
}

// Get resolves a declared dependency.
func (d Deps) Get(ctx context.Context, name string) (any, error) {
	return d.Registry.Get(ctx, name)
}

// Constructor builds the service described by cfg.
type Constructor func(ctx context.Context, deps Deps, cfg registry.ServiceConfig) (any, error)

// Catalog maps implementation references from a services manifest to constructors.
type Catalog struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ctors: make(map[string]Constructor)}
}

// Add binds ref to ctor.
func (c *Catalog) Add(ref string, ctor Constructor) error {
	if ref == "" {
		return fmt.Errorf("implementation reference cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("constructor for %q cannot be nil", ref)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.ctors[ref]; exists {
		return fmt.Errorf("implementation %q already in catalog", ref)
	}
	c.ctors[ref] = ctor
	return nil
}

// MustAdd is Add for static catalogs; it panics on error.
func (c *Catalog) MustAdd(ref string, ctor Constructor) *Catalog {
	if err := c.Add(ref, ctor); err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the constructor bound to ref.
func (c *Catalog) Lookup(ref string) (Constructor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctor, ok := c.ctors[ref]
	return ctor, ok
}

// Refs returns every bound reference in sorted order.
func (c *Catalog) Refs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs := make([]string, 0, len(c.ctors))
	for ref := range c.ctors {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
