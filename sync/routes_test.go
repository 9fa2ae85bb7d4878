package sync

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/opstore"
	"github.com/weftwork/weft/space"
)

func openTestSpace(t *testing.T) (*opstore.Connection, *Router) {
	t.Helper()
	c, err := opstore.Create(t.TempDir(), uuid.NewString(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	r := NewRouter()
	RegisterSpaceRoutes(r, c)
	return c, r
}

func dispatch(t *testing.T, r *Router, env *Envelope, out any) {
	t.Helper()
	resp := r.Dispatch(env)
	require.Empty(t, resp.Error, "route %s", env.Route)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Response, out))
	}
}

func TestWorkspaceRoute(t *testing.T) {
	c, r := openTestSpace(t)

	var ws map[string]any
	dispatch(t, r, &Envelope{Route: "workspace", Verb: VerbGet}, &ws)
	assert.Equal(t, c.Space().ID(), ws["id"])
	assert.Equal(t, "New Space", ws["name"])
	assert.Equal(t, true, ws["needsSetup"])

	dispatch(t, r, &Envelope{
		Route: "workspace",
		Verb:  VerbPost,
		Data:  json.RawMessage(`{"name":"Renamed"}`),
	}, nil)

	dispatch(t, r, &Envelope{Route: "workspace", Verb: VerbGet}, &ws)
	assert.Equal(t, "Renamed", ws["name"])
	assert.Equal(t, false, ws["needsSetup"])
}

func TestThreadLifecycleRoutes(t *testing.T) {
	c, r := openTestSpace(t)

	var created map[string]string
	dispatch(t, r, &Envelope{
		Route: "threads",
		Verb:  VerbPost,
		Data:  json.RawMessage(`{"title":"First thread"}`),
	}, &created)
	treeID := created["id"]
	require.NotEmpty(t, treeID)

	// The thread is a real chat app tree.
	c.Do(func(sp *space.Space) {
		at, err := sp.LoadAppTree(treeID)
		require.NoError(t, err)
		assert.NotNil(t, at.Messages())
	})

	var threads []map[string]any
	dispatch(t, r, &Envelope{Route: "threads", Verb: VerbGet}, &threads)
	require.Len(t, threads, 1)
	assert.Equal(t, treeID, threads[0]["id"])
	assert.Equal(t, "First thread", threads[0]["title"])

	var one map[string]any
	dispatch(t, r, &Envelope{Route: "threads/" + treeID, Verb: VerbGet}, &one)
	assert.Equal(t, "First thread", one["title"])

	dispatch(t, r, &Envelope{Route: "threads/" + treeID, Verb: VerbDelete}, nil)
	dispatch(t, r, &Envelope{Route: "threads", Verb: VerbGet}, &threads)
	assert.Empty(t, threads)

	resp := r.Dispatch(&Envelope{Route: "threads/" + treeID, Verb: VerbDelete})
	assert.NotEmpty(t, resp.Error)
}

func TestAgentConfigRoutes(t *testing.T) {
	_, r := openTestSpace(t)

	var configs []map[string]any
	dispatch(t, r, &Envelope{Route: "agent-configs", Verb: VerbGet}, &configs)
	require.Len(t, configs, 1)
	assert.Equal(t, "default-chat", configs[0]["id"])

	var one map[string]any
	dispatch(t, r, &Envelope{Route: "agent-configs/default-chat", Verb: VerbGet}, &one)
	assert.Equal(t, "Chat", one["name"])
}

func TestProviderConfigRoutes(t *testing.T) {
	_, r := openTestSpace(t)

	dispatch(t, r, &Envelope{
		Route: "provider-configs",
		Verb:  VerbPost,
		Data:  json.RawMessage(`{"id":"openai","baseURL":"https://api.openai.com","nested":{"dropped":true}}`),
	}, nil)

	var configs []map[string]any
	dispatch(t, r, &Envelope{Route: "provider-configs", Verb: VerbGet}, &configs)
	require.Len(t, configs, 1)
	assert.Equal(t, "openai", configs[0]["id"])
	assert.Equal(t, "https://api.openai.com", configs[0]["baseURL"])
	assert.NotContains(t, configs[0], "nested")

	dispatch(t, r, &Envelope{Route: "provider-configs/openai", Verb: VerbDelete}, nil)
	dispatch(t, r, &Envelope{Route: "provider-configs", Verb: VerbGet}, &configs)
	assert.Empty(t, configs)

	resp := r.Dispatch(&Envelope{
		Route: "provider-configs",
		Verb:  VerbPost,
		Data:  json.RawMessage(`{"name":"no id"}`),
	})
	assert.NotEmpty(t, resp.Error)
}
