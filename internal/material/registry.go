package material

import (
	"fmt"
	"sort"
	"strings"
)

// Registry resolves material identifiers to their definitions.
type Registry struct {
	byID  map[string]Material
	order []string
}

// NewRegistry builds a registry from the provided definitions. Air is always
// present even when the definitions omit it.
func NewRegistry(materials []Material) (*Registry, error) {
	r := &Registry{
		byID:  make(map[string]Material, len(materials)+1),
		order: make([]string, 0, len(materials)+1),
	}
	for i, m := range materials {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("material %d has no id", i)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("material %q defined twice", id)
		}
		m.ID = id
		if id == AirID {
			m.Liquid = false
			m.Reliant = false
		}
		r.byID[id] = m
		r.order = append(r.order, id)
	}
	if _, ok := r.byID[AirID]; !ok {
		r.byID[AirID] = Air
		r.order = append([]string{AirID}, r.order...)
	}
	return r, nil
}

// Lookup returns the material registered under id. The empty id resolves to air.
func (r *Registry) Lookup(id string) (Material, bool) {
	if id == "" {
		id = AirID
	}
	m, ok := r.byID[id]
	return m, ok
}

// Resolve returns the registered material for id, or a plain solid material
// carrying only the id when it is unknown.
func (r *Registry) Resolve(id string) Material {
	if m, ok := r.Lookup(id); ok {
		return m
	}
	return Material{ID: id}
}

// All returns materials in definition order.
func (r *Registry) All() []Material {
	out := make([]Material, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the registered identifiers sorted alphabetically.
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}
