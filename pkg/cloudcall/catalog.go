package cloudcall

import (
	"fmt"
	"sort"
	"sync"
)

// Catalog holds registered descriptors. Registration stores a private copy,
// so later changes to the caller's value are never observed by the engine.
type Catalog struct {
	mu    sync.RWMutex
	ops   map[string]*OperationDescriptor
	order []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ops: make(map[string]*OperationDescriptor)}
}

// Register validates desc and stores a copy of it.
func (c *Catalog) Register(desc *OperationDescriptor) error {
	if desc == nil {
		return ErrDescriptorNameMissing
	}

	err := desc.Validate()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ops[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDescriptor, desc.Name)
	}

	frozen := desc.Clone()
	c.ops[desc.Name] = &frozen
	c.order = append(c.order, desc.Name)

	return nil
}

// Get returns the descriptor registered under name. The returned value is a
// copy; mutating it does not affect the catalog.
func (c *Catalog) Get(name string) (*OperationDescriptor, error) {
	c.mu.RLock()
	desc, ok := c.ops[name]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDescriptor, name)
	}

	out := desc.Clone()

	return &out, nil
}

// MustGet is Get for catalogs built from static tables.
func (c *Catalog) MustGet(name string) *OperationDescriptor {
	desc, err := c.Get(name)
	if err != nil {
		panic(err)
	}

	return desc
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := append([]string(nil), c.order...)
	sort.Strings(names)

	return names
}

// Len returns the number of registered descriptors.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.ops)
}
