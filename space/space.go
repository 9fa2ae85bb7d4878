// Package space layers workspace conventions over replicated trees: one
// space tree with well-known named children, plus any number of app trees
// referenced from the space's app forest.
package space

import (
	"time"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
)

// Names of the space root's conventional children.
const (
	AppConfigsName = "app-configs"
	AppForestName  = "app-forest"
	ProvidersName  = "providers"
	SettingsName   = "settings"
)

// Space root property keys.
const (
	VersionKey    = "version"
	SpaceNameKey  = "name"
	NeedsSetupKey = "needsSetup"
)

// TIDKey is the app-forest vertex property referencing an app tree by its
// root vertex id.
const TIDKey = "tid"

// CurrentVersion is written to newly created space roots.
const CurrentVersion = float64(1)

// ErrInvalidSpace marks a tree that does not carry the space conventions.
var ErrInvalidSpace = errors.New("invalid space")

// ErrMissingTree marks an app tree id that is neither loaded nor loadable.
var ErrMissingTree = errors.New("missing tree")

// TreeLoader fetches the op history of an app tree by its root id. The
// persistence layer injects one when it opens a space from disk.
type TreeLoader func(treeID string) (*reptree.Tree, error)

// Space wraps the space tree and its satellite app trees.
//
// Secrets are held in memory only; they are never part of any replicated
// tree and persist as a separate encrypted blob.
type Space struct {
	tree *reptree.Tree

	appTrees   map[string]*AppTree
	treeLoader TreeLoader

	secrets map[string]string

	nextObs       int
	newAppTreeObs map[int]func(*AppTree)
	treeLoadObs   map[int]func(*AppTree)
}

// New bootstraps a fresh space for peer, emitting the genesis op list: the
// root, the four conventional children and the default app config.
func New(peer string) *Space {
	tree := reptree.New(peer, nil)
	tree.NewRoot(map[string]any{
		reptree.NameKey: "space",
		VersionKey:      CurrentVersion,
		SpaceNameKey:    "New Space",
		NeedsSetupKey:   true,
	})
	root := tree.RootVertexID()
	configs := tree.NewVertex(root, map[string]any{reptree.NameKey: AppConfigsName})
	tree.NewVertex(root, map[string]any{reptree.NameKey: AppForestName})
	tree.NewVertex(root, map[string]any{reptree.NameKey: ProvidersName})
	tree.NewVertex(root, map[string]any{reptree.NameKey: SettingsName})

	// Default app config: a plain chat assistant.
	tree.NewVertex(configs, map[string]any{
		"id":           "default-chat",
		"name":         "Chat",
		"button":       "New Chat",
		"description":  "A basic chat assistant",
		"instructions": "You are a helpful assistant.",
		"targetLLM":    "auto",
	})

	return wrap(tree)
}

// FromTree wraps an already-merged space tree. Returns ErrInvalidSpace when
// the tree lacks the space conventions.
func FromTree(tree *reptree.Tree) (*Space, error) {
	s := wrap(tree)
	if !s.IsValid() {
		return nil, errors.Wrapf(ErrInvalidSpace, "tree %s", tree.RootVertexID())
	}
	return s, nil
}

func wrap(tree *reptree.Tree) *Space {
	return &Space{
		tree:          tree,
		appTrees:      make(map[string]*AppTree),
		secrets:       make(map[string]string),
		newAppTreeObs: make(map[int]func(*AppTree)),
		treeLoadObs:   make(map[int]func(*AppTree)),
	}
}

// Tree returns the underlying space tree.
func (s *Space) Tree() *reptree.Tree { return s.tree }

// ID returns the space id, which is the space tree's root vertex id.
func (s *Space) ID() string { return s.tree.RootVertexID() }

// IsValid reports whether the tree carries the space conventions: a root
// named "space" with app-configs and app-forest children.
func (s *Space) IsValid() bool {
	root := s.tree.Root()
	if root == nil || root.Name() != "space" {
		return false
	}
	return root.ChildByName(AppConfigsName) != nil &&
		root.ChildByName(AppForestName) != nil
}

// Name returns the space's display name.
func (s *Space) Name() string {
	if root := s.tree.Root(); root != nil {
		name, _ := root.GetPropertyString(SpaceNameKey)
		return name
	}
	return ""
}

// SetName sets the space's display name.
func (s *Space) SetName(name string) {
	if root := s.tree.Root(); root != nil {
		root.SetProperty(SpaceNameKey, name)
	}
}

// NeedsSetup reports whether the space still carries the setup flag.
func (s *Space) NeedsSetup() bool {
	if root := s.tree.Root(); root != nil {
		b, _ := root.GetPropertyBool(NeedsSetupKey)
		return b
	}
	return false
}

// SetNeedsSetup sets or clears the setup flag.
func (s *Space) SetNeedsSetup(v bool) {
	if root := s.tree.Root(); root != nil {
		root.SetProperty(NeedsSetupKey, v)
	}
}

// AppConfigs returns the app-configs vertex.
func (s *Space) AppConfigs() *reptree.Vertex { return s.namedChild(AppConfigsName) }

// AppForest returns the app-forest vertex.
func (s *Space) AppForest() *reptree.Vertex { return s.namedChild(AppForestName) }

// Providers returns the providers vertex.
func (s *Space) Providers() *reptree.Vertex { return s.namedChild(ProvidersName) }

// Settings returns the settings vertex.
func (s *Space) Settings() *reptree.Vertex { return s.namedChild(SettingsName) }

func (s *Space) namedChild(name string) *reptree.Vertex {
	root := s.tree.Root()
	if root == nil {
		return nil
	}
	return root.ChildByName(name)
}

// NewAppTree creates an app tree for appID, records a referencing vertex in
// the space's app forest, and returns the loaded tree.
func (s *Space) NewAppTree(appID string) (*AppTree, error) {
	forest := s.AppForest()
	if forest == nil {
		return nil, errors.Wrap(ErrInvalidSpace, "space has no app forest")
	}

	at := newAppTree(s.tree.PeerID(), appID)
	forest.NewChild(map[string]any{
		TIDKey: at.ID(),
	})
	s.appTrees[at.ID()] = at

	for _, cb := range callbacks(s.newAppTreeObs) {
		cb(at)
	}
	return at, nil
}

// LoadAppTree returns the app tree with the given root id, loading it
// through the registered tree loader on first access.
func (s *Space) LoadAppTree(treeID string) (*AppTree, error) {
	if at, ok := s.appTrees[treeID]; ok {
		return at, nil
	}
	if s.treeLoader == nil {
		return nil, errors.Wrapf(ErrMissingTree, "tree %s: no tree loader registered", treeID)
	}
	tree, err := s.treeLoader(treeID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load app tree %s", treeID)
	}
	if tree == nil || tree.RootVertexID() != treeID {
		return nil, errors.Wrapf(ErrMissingTree, "tree %s", treeID)
	}
	at := &AppTree{tree: tree}
	s.appTrees[treeID] = at

	for _, cb := range callbacks(s.treeLoadObs) {
		cb(at)
	}
	return at, nil
}

// LoadedAppTree returns the app tree if it is already in memory.
func (s *Space) LoadedAppTree(treeID string) (*AppTree, bool) {
	at, ok := s.appTrees[treeID]
	return at, ok
}

// AppTreeIDs lists the tree ids referenced from the app forest.
func (s *Space) AppTreeIDs() []string {
	forest := s.AppForest()
	if forest == nil {
		return nil
	}
	var ids []string
	for _, child := range forest.Children() {
		if tid, ok := child.GetPropertyString(TIDKey); ok && tid != "" {
			ids = append(ids, tid)
		}
	}
	return ids
}

// RegisterTreeLoader injects the loader used by LoadAppTree on cache miss.
func (s *Space) RegisterTreeLoader(loader TreeLoader) {
	s.treeLoader = loader
}

// ObserveNewAppTree registers cb to run whenever this peer creates an app
// tree. The returned function deregisters.
func (s *Space) ObserveNewAppTree(cb func(*AppTree)) func() {
	s.nextObs++
	id := s.nextObs
	s.newAppTreeObs[id] = cb
	return func() { delete(s.newAppTreeObs, id) }
}

// ObserveTreeLoad registers cb to run whenever an app tree is loaded from
// the tree loader.
func (s *Space) ObserveTreeLoad(cb func(*AppTree)) func() {
	s.nextObs++
	id := s.nextObs
	s.treeLoadObs[id] = cb
	return func() { delete(s.treeLoadObs, id) }
}

// Trees returns the space tree and every loaded app tree, for the
// persistence layer to drain.
func (s *Space) Trees() []*reptree.Tree {
	out := []*reptree.Tree{s.tree}
	for _, at := range s.appTrees {
		out = append(out, at.tree)
	}
	return out
}

// Secret returns one secret value.
func (s *Space) Secret(key string) (string, bool) {
	v, ok := s.secrets[key]
	return v, ok
}

// SetSecret stores one secret value in memory. The persistence layer writes
// the encrypted blob on its next poll.
func (s *Space) SetSecret(key, value string) {
	s.secrets[key] = value
}

// Secrets returns a copy of the secret map.
func (s *Space) Secrets() map[string]string {
	out := make(map[string]string, len(s.secrets))
	for k, v := range s.secrets {
		out[k] = v
	}
	return out
}

// ReplaceSecrets swaps the in-memory secret map, used when the blob on disk
// changes under us.
func (s *Space) ReplaceSecrets(secrets map[string]string) {
	if secrets == nil {
		secrets = make(map[string]string)
	}
	s.secrets = secrets
}

func callbacks(m map[int]func(*AppTree)) []func(*AppTree) {
	out := make([]func(*AppTree), 0, len(m))
	for _, cb := range m {
		out = append(out, cb)
	}
	return out
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
