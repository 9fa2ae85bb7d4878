package opstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
	"github.com/weftwork/weft/space"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestCreateAndReopenSpace(t *testing.T) {
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)
	spaceID := c.Space().ID()
	require.NoError(t, c.Close())

	// The genesis landed on disk in the documented layout.
	ptr, err := LoadSpacePointer(dir)
	require.NoError(t, err)
	assert.Equal(t, spaceID, ptr.ID)
	matches, err := filepath.Glob(filepath.Join(TreeDir(dir, spaceID), "*", peer+".jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	reopened, err := Open(dir, uuid.NewString(), testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Space().IsValid())
	assert.Equal(t, spaceID, reopened.Space().ID())
}

func TestCreateRefusesExistingSpace(t *testing.T) {
	dir := t.TempDir()
	c, err := Create(dir, uuid.NewString(), testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Create(dir, uuid.NewString(), testLogger())
	require.Error(t, err)
}

func TestOpenMissingPointer(t *testing.T) {
	_, err := Open(t.TempDir(), uuid.NewString(), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSpace))
}

func TestOpenMalformedPointer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SpacePointerFile), []byte("{not json"), 0o644))

	_, err := Open(dir, uuid.NewString(), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSpace))
}

func TestOpenSpaceIDMismatch(t *testing.T) {
	dir := t.TempDir()
	peer := uuid.NewString()
	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)
	spaceID := c.Space().ID()
	require.NoError(t, c.Close())

	// Re-point the directory at a different id than the ops build: move the
	// space's ops under the new id so Open finds them there.
	newID := uuid.NewString()
	require.NoError(t, os.MkdirAll(filepath.Dir(TreeDir(dir, newID)), 0o755))
	require.NoError(t, os.Rename(TreeDir(dir, spaceID), TreeDir(dir, newID)))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, SpacePointerFile),
		[]byte(`{"id":"`+newID+`"}`), 0o644))

	_, err = Open(dir, uuid.NewString(), testLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpaceIDMismatch))
}

func TestRestartPreservesSnapshot(t *testing.T) {
	// S6: create, make a pile of mixed ops, close, reopen — the replayed
	// tree matches the pre-stop snapshot exactly.
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)

	var want reptree.Snapshot
	c.Do(func(sp *space.Space) {
		tree := sp.Tree()
		root := tree.RootVertexID()
		ids := []string{root}
		for i := 0; i < 100; i++ {
			switch i % 3 {
			case 0:
				ids = append(ids, tree.NewVertex(ids[i%len(ids)], map[string]any{"i": i}))
			case 1:
				tree.SetVertexProperty(ids[i%len(ids)], "label", "value")
			case 2:
				tree.MoveVertex(ids[i%len(ids)], ids[(i/2)%len(ids)])
			}
		}
		want = tree.Snapshot()
	})
	require.NoError(t, c.Close())

	reopened, err := Open(dir, peer, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, want, reopened.Space().Tree().Snapshot())
}

func TestTransientOpsNeverPersisted(t *testing.T) {
	// S5: a message append is persisted, the transient streaming updates
	// are not.
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)

	var msgID string
	c.Do(func(sp *space.Space) {
		tree := sp.Tree()
		msgID = tree.NewVertex(tree.RootVertexID(), map[string]any{
			"role": "user",
			"text": "hello",
		})
		tree.SetTransientVertexProperty(msgID, "text", "hello, wor")
		tree.SetTransientVertexProperty(msgID, "text", "hello, world")
	})
	require.NoError(t, c.Close())

	var content strings.Builder
	err = filepath.Walk(OpsDir(dir), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		content.Write(data)
		return nil
	})
	require.NoError(t, err)

	assert.Contains(t, content.String(), `"hello"`)
	assert.NotContains(t, content.String(), "hello, wor")

	// After a reload only the persisted value remains.
	reopened, err := Open(dir, peer, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	text, _ := reopened.Space().Tree().GetVertexProperty(msgID, "text")
	assert.Equal(t, "hello", text)
}

func TestAppTreePersistAndReload(t *testing.T) {
	// S4: the chat app tree is referenced from the forest and reloads from
	// disk through the tree loader.
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)

	var treeID string
	var want reptree.Snapshot
	c.Do(func(sp *space.Space) {
		at, err := space.NewChatTree(sp)
		require.NoError(t, err)
		treeID = at.ID()
		want = at.Tree().Snapshot()
	})
	require.NoError(t, c.Close())

	reopened, err := Open(dir, uuid.NewString(), testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	var got *space.AppTree
	reopened.Do(func(sp *space.Space) {
		require.Equal(t, []string{treeID}, sp.AppTreeIDs())
		got, err = sp.LoadAppTree(treeID)
	})
	require.NoError(t, err)
	assert.Equal(t, want, got.Tree().Snapshot())
	assert.NotNil(t, got.Messages())
	assert.NotNil(t, got.Jobs())
}

func TestCorruptOpLinesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)
	spaceID := c.Space().ID()
	want := c.Space().Tree().Snapshot()
	require.NoError(t, c.Close())

	// Corrupt the op file with garbage lines interleaved at the end.
	matches, err := filepath.Glob(filepath.Join(TreeDir(dir, spaceID), "*", peer+".jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	f, err := os.OpenFile(matches[0], os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n[\"m\",\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, peer, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, want, reopened.Space().Tree().Snapshot())
}

func TestSecretsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)
	c.Do(func(sp *space.Space) {
		sp.SetSecret("openai", "sk-test")
	})
	require.NoError(t, c.Close())

	// The blob on disk is opaque.
	blob, err := os.ReadFile(filepath.Join(dir, SecretsFile))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "sk-test")

	reopened, err := Open(dir, peer, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	v, ok := reopened.Space().Secret("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-test", v)
}

func TestCorruptSecretsDegradeToEmpty(t *testing.T) {
	dir := t.TempDir()
	peer := uuid.NewString()

	c, err := Create(dir, peer, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, SecretsFile), []byte("garbage"), 0o600))

	reopened, err := Open(dir, peer, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	assert.Empty(t, reopened.Space().Secrets())
	assert.True(t, reopened.Space().IsValid())
}

func TestTwoPeersConvergeThroughSharedDirectory(t *testing.T) {
	dir := t.TempDir()
	peerA := uuid.NewString()
	peerB := uuid.NewString()

	a, err := Create(dir, peerA, testLogger())
	require.NoError(t, err)
	defer a.Close()

	b, err := Open(dir, peerB, testLogger())
	require.NoError(t, err)
	defer b.Close()

	var vertexID string
	a.Do(func(sp *space.Space) {
		tree := sp.Tree()
		vertexID = tree.NewVertex(tree.RootVertexID(), map[string]any{"from": "a"})
	})
	require.NoError(t, a.Flush())

	require.Eventually(t, func() bool {
		seen := false
		b.Do(func(sp *space.Space) {
			seen = sp.Tree().HasVertex(vertexID)
		})
		return seen
	}, 5*time.Second, 20*time.Millisecond, "peer b never saw peer a's vertex")

	b.Do(func(sp *space.Space) {
		sp.Tree().SetVertexProperty(vertexID, "ack", true)
	})
	require.NoError(t, b.Flush())

	require.Eventually(t, func() bool {
		acked := false
		a.Do(func(sp *space.Space) {
			v, ok := sp.Tree().GetVertexProperty(vertexID, "ack")
			acked = ok && v == true
		})
		return acked
	}, 5*time.Second, 20*time.Millisecond, "peer a never saw peer b's property")
}
