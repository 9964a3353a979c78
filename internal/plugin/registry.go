package plugin

import (
	"fmt"
	"sort"
)

// Registry maps plugin IDs to implementations. Registration order is
// preserved so chain-priority ties break deterministically across runs.
type Registry struct {
	byID  map[string]Plugin
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Plugin)}
}

// Register adds a plugin. Duplicate IDs and descriptors without
// categories are rejected.
func (r *Registry) Register(p Plugin) error {
	d := p.Descriptor()
	if d.ID == "" {
		return fmt.Errorf("plugin registry: descriptor has empty id")
	}
	if len(d.Categories) == 0 {
		return fmt.Errorf("plugin registry: %s declares no categories", d.ID)
	}
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("plugin registry: duplicate id %q", d.ID)
	}
	r.byID[d.ID] = p
	r.order = append(r.order, d.ID)
	return nil
}

// Get returns the plugin for an ID.
func (r *Registry) Get(id string) (Plugin, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// IDs returns all plugin IDs in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ForCategory returns plugins supporting a category, in registration order.
func (r *Registry) ForCategory(category string) []Plugin {
	var out []Plugin
	for _, id := range r.order {
		p := r.byID[id]
		if p.Descriptor().SupportsCategory(category) {
			out = append(out, p)
		}
	}
	return out
}

// ChainCandidates returns plugins whose Consumes set contains the artifact
// type and whose categories include the investigation category, sorted by
// descending chain priority. Ties keep registration order.
func (r *Registry) ChainCandidates(artifactType, category string) []Plugin {
	var out []Plugin
	for _, id := range r.order {
		p := r.byID[id]
		d := p.Descriptor()
		if d.ConsumesType(artifactType) && d.SupportsCategory(category) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Descriptor().ChainPriority > out[j].Descriptor().ChainPriority
	})
	return out
}
