package space

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
)

func TestNewSpaceGenesis(t *testing.T) {
	s := New("p1")

	require.True(t, s.IsValid())
	require.NotEmpty(t, s.ID())
	assert.Equal(t, "New Space", s.Name())
	assert.True(t, s.NeedsSetup())

	for _, name := range []string{AppConfigsName, AppForestName, ProvidersName, SettingsName} {
		assert.NotNil(t, s.Tree().Root().ChildByName(name), "missing %s", name)
	}

	configs := s.AppConfigs().Children()
	require.Len(t, configs, 1)
	id, _ := configs[0].GetPropertyString("id")
	assert.Equal(t, "default-chat", id)

	ops := s.Tree().PopLocalOps()
	var rootMoves int
	for _, op := range ops {
		if m, ok := op.(reptree.MoveOp); ok && m.ParentID == nil {
			rootMoves++
		}
	}
	assert.Equal(t, 1, rootMoves)

	// The genesis op list is merge-safe: rebuilding from it yields the same
	// valid space.
	rebuilt, err := FromTree(reptree.New("p2", ops))
	require.NoError(t, err)
	assert.True(t, rebuilt.IsValid())
	assert.Equal(t, s.ID(), rebuilt.ID())
	assert.Equal(t, s.Tree().Snapshot(), rebuilt.Tree().Snapshot())
}

func TestFromTreeRejectsNonSpace(t *testing.T) {
	tree := reptree.New("p1", nil)
	tree.NewRoot(map[string]any{reptree.NameKey: "not-a-space"})

	_, err := FromTree(tree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSpace))
}

func TestNewChatTree(t *testing.T) {
	s := New("p1")

	var created *AppTree
	unsub := s.ObserveNewAppTree(func(at *AppTree) { created = at })
	defer unsub()

	at, err := NewChatTree(s)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.Same(t, at, created)
	assert.Equal(t, ChatAppID, at.AppID())

	require.NotNil(t, at.Messages())
	require.NotNil(t, at.Jobs())

	// The forest references the new tree by its root id.
	forest := s.AppForest().Children()
	require.Len(t, forest, 1)
	tid, _ := forest[0].GetPropertyString(TIDKey)
	assert.Equal(t, at.ID(), tid)
	assert.Equal(t, []string{at.ID()}, s.AppTreeIDs())
}

func TestLoadAppTreeMemoized(t *testing.T) {
	s := New("p1")
	at, err := NewChatTree(s)
	require.NoError(t, err)

	got, err := s.LoadAppTree(at.ID())
	require.NoError(t, err)
	assert.Same(t, at, got)
}

func TestLoadAppTreeDelegatesToLoader(t *testing.T) {
	s := New("p1")
	at, err := NewChatTree(s)
	require.NoError(t, err)
	ops := at.Tree().PopLocalOps()
	treeID := at.ID()

	// A second peer's space knows the reference but not the tree.
	other, err := FromTree(reptree.New("p2", s.Tree().PopLocalOps()))
	require.NoError(t, err)

	_, err = other.LoadAppTree(treeID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTree))

	calls := 0
	other.RegisterTreeLoader(func(id string) (*reptree.Tree, error) {
		calls++
		require.Equal(t, treeID, id)
		return reptree.New("p2", ops), nil
	})

	var loaded *AppTree
	unsub := other.ObserveTreeLoad(func(at *AppTree) { loaded = at })
	defer unsub()

	got, err := other.LoadAppTree(treeID)
	require.NoError(t, err)
	assert.Equal(t, treeID, got.ID())
	assert.Same(t, got, loaded)

	// Memoized: the loader runs once.
	_, err = other.LoadAppTree(treeID)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestLoadAppTreeRejectsMismatchedRoot(t *testing.T) {
	s := New("p1")
	s.RegisterTreeLoader(func(id string) (*reptree.Tree, error) {
		wrong := reptree.New("p1", nil)
		wrong.NewRoot(nil)
		return wrong, nil
	})

	_, err := s.LoadAppTree("some-other-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingTree))
}

func TestAppendMessageAndMainChild(t *testing.T) {
	s := New("p1")
	at, err := NewChatTree(s)
	require.NoError(t, err)

	msgs := at.Messages()
	first := at.AppendMessage(msgs, "user", "hello")
	role, _ := first.GetPropertyString(RoleKey)
	text, _ := first.GetPropertyString(TextKey)
	assert.Equal(t, "user", role)
	assert.Equal(t, "hello", text)
	_, hasCreated := first.GetProperty(CreatedAtKey)
	assert.True(t, hasCreated)

	// Two sibling branches: the later main=true write wins.
	a := at.AppendMessage(first, "assistant", "branch a")
	b := at.AppendMessage(first, "assistant", "branch b")
	_ = a
	got := MainChild(first)
	require.NotNil(t, got)
	assert.Equal(t, b.ID(), got.ID())
}

func TestSecretsHeldOutsideTree(t *testing.T) {
	s := New("p1")
	s.Tree().PopLocalOps()

	s.SetSecret("openai", "sk-test")
	v, ok := s.Secret("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-test", v)

	// No ops were generated: secrets never enter the replicated tree.
	assert.Empty(t, s.Tree().PopLocalOps())

	s.ReplaceSecrets(map[string]string{"anthropic": "sk-other"})
	_, ok = s.Secret("openai")
	assert.False(t, ok)
}
