package reptree

import (
	"encoding/json"
	"sort"
)

// Vertex is an ergonomic handle over one tree node. It carries only the
// engine reference and the vertex id — all state lives in the engine's
// store, so handles may be created and dropped freely.
type Vertex struct {
	tree *Tree
	id   string
}

// ID returns the vertex id.
func (v *Vertex) ID() string { return v.id }

// Tree returns the owning engine.
func (v *Vertex) Tree() *Tree { return v.tree }

// Name returns the vertex's name property.
func (v *Vertex) Name() string {
	s, _ := v.GetPropertyString(NameKey)
	return s
}

// SetName sets the vertex's name property.
func (v *Vertex) SetName(name string) {
	v.SetProperty(NameKey, name)
}

// Parent returns the parent vertex, or nil for the root.
func (v *Vertex) Parent() *Vertex {
	parent, ok := v.tree.store.parent(v.id)
	if !ok || parent == nil {
		return nil
	}
	return v.tree.Vertex(*parent)
}

// Children returns the child vertices in apply order.
func (v *Vertex) Children() []*Vertex {
	ids := v.tree.store.children(v.id)
	out := make([]*Vertex, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Vertex{tree: v.tree, id: id})
	}
	return out
}

// NewChild creates a child vertex with the given properties.
func (v *Vertex) NewChild(props map[string]any) *Vertex {
	id := v.tree.NewVertex(v.id, props)
	return &Vertex{tree: v.tree, id: id}
}

// MoveTo reparents the vertex under newParent.
func (v *Vertex) MoveTo(newParent *Vertex) {
	v.tree.MoveVertex(v.id, newParent.id)
}

// Delete moves the vertex and its descendants under the tombstone.
func (v *Vertex) Delete() {
	v.tree.DeleteVertex(v.id)
}

// GetProperty returns the applied value for key.
func (v *Vertex) GetProperty(key string) (any, bool) {
	return v.tree.GetVertexProperty(v.id, key)
}

// GetPropertyString returns the value for key if it is a string.
func (v *Vertex) GetPropertyString(key string) (string, bool) {
	val, ok := v.GetProperty(key)
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

// GetPropertyBool returns the value for key if it is a bool.
func (v *Vertex) GetPropertyBool(key string) (bool, bool) {
	val, ok := v.GetProperty(key)
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// SetProperty sets one property.
func (v *Vertex) SetProperty(key string, value any) {
	v.tree.SetVertexProperty(v.id, key, value)
}

// SetProperties sets each entry of props as its own op, in sorted key order
// so two peers setting the same map emit identically ordered ops.
func (v *Vertex) SetProperties(props map[string]any) {
	for _, k := range sortedKeys(props) {
		v.SetProperty(k, props[k])
	}
}

// SetTransientProperty sets a property that is never persisted.
func (v *Vertex) SetTransientProperty(key string, value any) {
	v.tree.SetTransientVertexProperty(v.id, key, value)
}

// Properties returns a snapshot of the vertex's properties.
func (v *Vertex) Properties() map[string]any {
	return v.tree.store.properties(v.id)
}

// AsObject projects {id, ...properties} into out, which must be a pointer
// to a struct with json tags (or a map).
func (v *Vertex) AsObject(out any) error {
	m := v.Properties()
	if m == nil {
		m = map[string]any{}
	}
	m["id"] = v.id
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// FindFirstChildWithProperty scans children in order for the first one whose
// key equals value.
func (v *Vertex) FindFirstChildWithProperty(key string, value any) *Vertex {
	for _, c := range v.Children() {
		if got, ok := c.GetProperty(key); ok && valueEqual(got, value) {
			return c
		}
	}
	return nil
}

// ChildByName returns the first child whose name property equals name.
func (v *Vertex) ChildByName(name string) *Vertex {
	return v.FindFirstChildWithProperty(NameKey, name)
}

// Observe registers cb for change events on this vertex. The returned
// function deregisters.
func (v *Vertex) Observe(cb func(VertexEvent)) func() {
	return v.tree.ObserveVertex(v.id, cb)
}

// ObserveChildren re-fetches the child list on every children event and
// passes the fresh snapshot to cb.
func (v *Vertex) ObserveChildren(cb func([]*Vertex)) func() {
	return v.tree.ObserveVertex(v.id, func(ev VertexEvent) {
		if ev.Kind == EventChildren {
			cb(v.Children())
		}
	})
}

// ObserveObjects projects every child through AsObject on each children
// event. decode builds one element; the slice passed to cb is rebuilt from
// scratch each time.
func (v *Vertex) ObserveObjects(decode func(*Vertex) (any, error), cb func([]any)) func() {
	return v.ObserveChildren(func(children []*Vertex) {
		out := make([]any, 0, len(children))
		for _, c := range children {
			obj, err := decode(c)
			if err != nil {
				continue
			}
			out = append(out, obj)
		}
		cb(out)
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
