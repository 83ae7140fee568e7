package tool

import "sort"

// Registry is a closed table of tools, fixed at construction. Unknown IDs
// resolve to nothing; callers turn that into a failed result rather than
// an exception.
type Registry struct {
	tools map[string]Tool
	ids   []string
}

// NewRegistry builds a registry from the given tools. Later tools with a
// duplicate ID replace earlier ones.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.ID()] = t
	}
	for id := range r.tools {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r
}

// Get returns the tool for an ID.
func (r *Registry) Get(id string) (Tool, bool) {
	t, ok := r.tools[id]
	return t, ok
}

// IDs returns all tool IDs, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Tools returns all tools ordered by ID.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.tools[id])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
