package sync

import (
	"encoding/json"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/opstore"
	"github.com/weftwork/weft/reptree"
	"github.com/weftwork/weft/space"
)

// RegisterSpaceRoutes wires the space-backed routes onto a router. Routes
// the engine does not own — provider validation, model discovery, profile,
// session — are registered by the layers that implement them; the router
// treats their envelopes as opaque either way.
func RegisterSpaceRoutes(r *Router, conn *opstore.Connection) {
	r.Handle("workspace", VerbGet, func(*Request) (any, error) {
		var out map[string]any
		conn.Do(func(sp *space.Space) {
			out = map[string]any{
				"id":         sp.ID(),
				"name":       sp.Name(),
				"needsSetup": sp.NeedsSetup(),
			}
		})
		return out, nil
	})

	r.Handle("workspace", VerbPost, func(req *Request) (any, error) {
		var body struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return nil, errors.Wrap(err, "malformed workspace update")
		}
		conn.Do(func(sp *space.Space) {
			if body.Name != "" {
				sp.SetName(body.Name)
			}
			sp.SetNeedsSetup(false)
		})
		return map[string]any{"ok": true}, nil
	})

	r.Handle("workspace-exists", VerbGet, func(*Request) (any, error) {
		return map[string]any{"exists": true, "id": conn.Space().ID()}, nil
	})

	r.Handle("threads", VerbGet, func(*Request) (any, error) {
		var threads []map[string]any
		conn.Do(func(sp *space.Space) {
			forest := sp.AppForest()
			if forest == nil {
				return
			}
			for _, ref := range forest.Children() {
				tid, ok := ref.GetPropertyString(space.TIDKey)
				if !ok {
					continue
				}
				entry := map[string]any{"id": tid}
				if title, ok := ref.GetPropertyString("title"); ok {
					entry["title"] = title
				}
				threads = append(threads, entry)
			}
		})
		return threads, nil
	})

	r.Handle("threads", VerbPost, func(req *Request) (any, error) {
		var body struct {
			Title string `json:"title"`
		}
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &body); err != nil {
				return nil, errors.Wrap(err, "malformed thread request")
			}
		}
		var treeID string
		var createErr error
		conn.Do(func(sp *space.Space) {
			at, err := space.NewChatTree(sp)
			if err != nil {
				createErr = err
				return
			}
			treeID = at.ID()
			if body.Title != "" {
				if ref := forestRef(sp, treeID); ref != nil {
					ref.SetProperty("title", body.Title)
				}
			}
		})
		if createErr != nil {
			return nil, createErr
		}
		return map[string]any{"id": treeID}, nil
	})

	r.Handle("threads/:id", VerbGet, func(req *Request) (any, error) {
		treeID := req.Params["id"]
		var out map[string]any
		conn.Do(func(sp *space.Space) {
			if ref := forestRef(sp, treeID); ref != nil {
				out = map[string]any{"id": treeID}
				if title, ok := ref.GetPropertyString("title"); ok {
					out["title"] = title
				}
			}
		})
		if out == nil {
			return nil, errors.Newf("no thread %s", treeID)
		}
		return out, nil
	})

	r.Handle("threads/:id", VerbDelete, func(req *Request) (any, error) {
		treeID := req.Params["id"]
		deleted := false
		conn.Do(func(sp *space.Space) {
			if ref := forestRef(sp, treeID); ref != nil {
				ref.Delete()
				deleted = true
			}
		})
		if !deleted {
			return nil, errors.Newf("no thread %s", treeID)
		}
		return map[string]any{"ok": true}, nil
	})

	r.Handle("agent-configs", VerbGet, func(*Request) (any, error) {
		return configList(conn, func(sp *space.Space) *reptree.Vertex { return sp.AppConfigs() }), nil
	})

	r.Handle("agent-configs/:id", VerbGet, func(req *Request) (any, error) {
		return configByID(conn, req.Params["id"], func(sp *space.Space) *reptree.Vertex { return sp.AppConfigs() })
	})

	r.Handle("provider-configs", VerbGet, func(*Request) (any, error) {
		return configList(conn, func(sp *space.Space) *reptree.Vertex { return sp.Providers() }), nil
	})

	r.Handle("provider-configs", VerbPost, func(req *Request) (any, error) {
		props, err := scalarProps(req.Data)
		if err != nil {
			return nil, err
		}
		if _, ok := props["id"]; !ok {
			return nil, errors.New("provider config needs an id")
		}
		conn.Do(func(sp *space.Space) {
			if providers := sp.Providers(); providers != nil {
				providers.NewChild(props)
			}
		})
		return map[string]any{"ok": true}, nil
	})

	r.Handle("provider-configs/:id", VerbDelete, func(req *Request) (any, error) {
		removed := false
		conn.Do(func(sp *space.Space) {
			providers := sp.Providers()
			if providers == nil {
				return
			}
			if v := providers.FindFirstChildWithProperty("id", req.Params["id"]); v != nil {
				v.Delete()
				removed = true
			}
		})
		if !removed {
			return nil, errors.Newf("no provider config %s", req.Params["id"])
		}
		return map[string]any{"ok": true}, nil
	})
}

func forestRef(sp *space.Space, treeID string) *reptree.Vertex {
	forest := sp.AppForest()
	if forest == nil {
		return nil
	}
	return forest.FindFirstChildWithProperty(space.TIDKey, treeID)
}

func configList(conn *opstore.Connection, pick func(*space.Space) *reptree.Vertex) []map[string]any {
	var out []map[string]any
	conn.Do(func(sp *space.Space) {
		parent := pick(sp)
		if parent == nil {
			return
		}
		for _, child := range parent.Children() {
			entry := child.Properties()
			entry["id"] = firstString(entry, "id", child.ID())
			out = append(out, entry)
		}
	})
	return out
}

func configByID(conn *opstore.Connection, id string, pick func(*space.Space) *reptree.Vertex) (map[string]any, error) {
	var out map[string]any
	conn.Do(func(sp *space.Space) {
		parent := pick(sp)
		if parent == nil {
			return
		}
		if v := parent.FindFirstChildWithProperty("id", id); v != nil {
			out = v.Properties()
		}
	})
	if out == nil {
		return nil, errors.Newf("no config %s", id)
	}
	return out, nil
}

// scalarProps flattens a JSON object into vertex properties, keeping only
// transportable values.
func scalarProps(data json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.Wrap(err, "malformed config object")
	}
	props := make(map[string]any, len(obj))
	for k, v := range obj {
		switch v.(type) {
		case nil, bool, float64, string, []any:
			props[k] = v
		}
	}
	return props, nil
}

func firstString(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
