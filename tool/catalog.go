package tool

import (
	"fmt"
	"sync"
)

// Kind groups catalog entries by the capability they provide.
type Kind string

const (
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindUpload Kind = "upload"
	KindSystem Kind = "system"
)

// Entry is a catalog registration.
type Entry struct {
	Tool Tool
	Kind Kind
	// Sensitive tools only run after an explicit user confirmation.
	Sensitive bool
}

// Catalog maps tool names to executable tools. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// NewCatalog creates a catalog pre-populated with entries.
func NewCatalog(entries ...Entry) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]Entry)}
	for _, e := range entries {
		if err := c.Add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers an entry. Names must be unique and must not collide with
// the hand-off namespace.
func (c *Catalog) Add(e Entry) error {
	if e.Tool == nil {
		return fmt.Errorf("catalog: nil tool")
	}
	name := e.Tool.Name()
	if name == "" {
		return fmt.Errorf("catalog: tool name must not be empty")
	}
	if IsHandoffName(name) {
		return fmt.Errorf("catalog: %q uses the reserved %q prefix", name, HandoffPrefix)
	}
	if e.Kind == "" {
		e.Kind = KindSystem
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("catalog: duplicate tool %q", name)
	}
	c.entries[name] = e
	c.order = append(c.order, name)
	return nil
}

// Lookup returns the tool registered under name.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	e, ok := c.Entry(name)
	return e.Tool, ok
}

// Entry returns the full registration for name.
func (c *Catalog) Entry(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e, ok
}

// IsSensitive reports whether name requires confirmation.
func (c *Catalog) IsSensitive(name string) bool {
	e, ok := c.Entry(name)
	return ok && e.Sensitive
}

// Names returns all tool names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// NamesOfKind returns the names of tools of the given kinds, in
// registration order.
func (c *Catalog) NamesOfKind(kinds ...Kind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, name := range c.order {
		for _, k := range kinds {
			if c.entries[name].Kind == k {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// FirstOfKind returns the first registered tool of kind.
func (c *Catalog) FirstOfKind(kind Kind) (Tool, bool) {
	names := c.NamesOfKind(kind)
	if len(names) == 0 {
		return nil, false
	}
	return c.Lookup(names[0])
}
