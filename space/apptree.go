package space

import "github.com/weftwork/weft/reptree"

// App tree root property keys.
const (
	AppIDKey = "appId"
)

// Message vertex property keys used by chat app trees.
const (
	RoleKey       = "role"
	TextKey       = "text"
	CreatedAtKey  = "createdAt"
	InProgressKey = "inProgress"
	ThinkingKey   = "thinking"
	MainKey       = "main"
)

// Chat app tree conventions.
const (
	ChatAppID    = "default-chat"
	MessagesName = "messages"
	JobsName     = "jobs"
)

// AppTree is a satellite tree hosting one application's state. Its root
// carries the app id; the space references it from the app forest by the
// root vertex id.
type AppTree struct {
	tree *reptree.Tree
}

func newAppTree(peer, appID string) *AppTree {
	tree := reptree.New(peer, nil)
	tree.NewRoot(map[string]any{
		reptree.NameKey: "app-tree",
		AppIDKey:        appID,
	})
	return &AppTree{tree: tree}
}

// Tree returns the underlying replicated tree.
func (at *AppTree) Tree() *reptree.Tree { return at.tree }

// ID returns the app tree id, which is its root vertex id.
func (at *AppTree) ID() string { return at.tree.RootVertexID() }

// AppID returns the id of the application owning this tree.
func (at *AppTree) AppID() string {
	root := at.tree.Root()
	if root == nil {
		return ""
	}
	id, _ := root.GetPropertyString(AppIDKey)
	return id
}

// NewChatTree creates a chat app tree with its messages and jobs containers
// and registers it in the space.
func NewChatTree(s *Space) (*AppTree, error) {
	at, err := s.NewAppTree(ChatAppID)
	if err != nil {
		return nil, err
	}
	root := at.tree.Root()
	root.NewChild(map[string]any{reptree.NameKey: MessagesName})
	root.NewChild(map[string]any{reptree.NameKey: JobsName})
	return at, nil
}

// Messages returns the chat tree's messages container.
func (at *AppTree) Messages() *reptree.Vertex {
	return at.namedChild(MessagesName)
}

// Jobs returns the chat tree's jobs container.
func (at *AppTree) Jobs() *reptree.Vertex {
	return at.namedChild(JobsName)
}

func (at *AppTree) namedChild(name string) *reptree.Vertex {
	root := at.tree.Root()
	if root == nil {
		return nil
	}
	return root.ChildByName(name)
}

// AppendMessage adds a message vertex under parent (the messages container
// or an earlier message, forming a branch) and marks it as the main branch
// child.
func (at *AppTree) AppendMessage(parent *reptree.Vertex, role, text string) *reptree.Vertex {
	msg := parent.NewChild(map[string]any{
		reptree.NameKey: "message",
		RoleKey:         role,
		TextKey:         text,
		CreatedAtKey:    nowRFC3339(),
		MainKey:         true,
	})
	return msg
}

// MainChild picks the canonical branch among a message's children: the last
// sibling in apply order carrying main=true. Concurrent edits may leave
// several siblings flagged; apply order is replicated, so every peer picks
// the same one. With no flagged sibling the newest child is used.
func MainChild(parent *reptree.Vertex) *reptree.Vertex {
	var main *reptree.Vertex
	for _, c := range parent.Children() {
		if b, ok := c.GetPropertyBool(MainKey); ok && b {
			main = c
		}
	}
	if main == nil {
		children := parent.Children()
		if len(children) > 0 {
			return children[len(children)-1]
		}
	}
	return main
}
