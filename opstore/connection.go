package opstore

import (
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
	"github.com/weftwork/weft/space"
)

// SecretsPollInterval is how often the in-memory secret map is compared to
// its last saved state and written out when changed.
const SecretsPollInterval = time.Second

// Connection owns a space held in a local directory: it replays the op
// store on open, appends local ops on a timer, watches for other peers'
// appends, and keeps the secrets blob in sync.
//
// The tree engine is single-writer; the connection is the single-owner
// boundary around it. All engine access from the outside goes through Do,
// which serializes against the flush and watch loops.
type Connection struct {
	path   string
	peer   string
	logger *zap.SugaredLogger

	mu    stdsync.Mutex
	space *space.Space

	flusher *Flusher
	watcher *Watcher

	lastSecrets map[string]string

	secretsStop chan struct{}
	secretsDone chan struct{}

	connected bool
}

// Create initializes a new space directory at path for peer and returns an
// open connection to it. Fails if the directory already holds a space.
func Create(path, peer string, logger *zap.SugaredLogger) (*Connection, error) {
	pointerPath := filepath.Join(path, SpacePointerFile)
	if _, err := os.Stat(pointerPath); err == nil {
		return nil, errors.Newf("directory %s already holds a space", path)
	}
	if err := os.MkdirAll(OpsDir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create space directory %s", path)
	}

	sp := space.New(peer)
	pointer, err := json.Marshal(SpacePointer{ID: sp.ID()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode space pointer")
	}
	if err := os.WriteFile(pointerPath, pointer, 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", SpacePointerFile)
	}

	c := newConnection(path, peer, sp, logger)
	// Persist the genesis ops before anything else can happen to the space.
	if err := c.flusher.Flush(); err != nil {
		return nil, err
	}
	c.start()
	return c, nil
}

// Open replays an existing space directory into memory and starts the
// flush, watch and secrets loops.
func Open(path, peer string, logger *zap.SugaredLogger) (*Connection, error) {
	ptr, err := LoadSpacePointer(path)
	if err != nil {
		return nil, err
	}

	ops, err := LoadTreeOps(path, ptr.ID, logger)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.Wrapf(ErrInvalidSpace, "space %s has no ops", ptr.ID)
	}

	tree := reptree.New(peer, ops)
	if tree.RootVertexID() != ptr.ID {
		return nil, errors.Wrapf(ErrSpaceIDMismatch,
			"pointer declares %s but ops build %s", ptr.ID, tree.RootVertexID())
	}

	sp, err := space.FromTree(tree)
	if err != nil {
		return nil, err
	}

	c := newConnection(path, peer, sp, logger)
	c.loadSecretsFromDisk()
	c.start()
	return c, nil
}

func newConnection(path, peer string, sp *space.Space, logger *zap.SugaredLogger) *Connection {
	c := &Connection{
		path:        path,
		peer:        peer,
		logger:      logger,
		space:       sp,
		lastSecrets: map[string]string{},
		secretsStop: make(chan struct{}),
		secretsDone: make(chan struct{}),
		connected:   true,
	}
	sp.RegisterTreeLoader(c.loadTree)
	c.flusher = NewFlusher(path, peer, c.drainLocalOps, logger.Named("opstore.flusher"))
	return c
}

func (c *Connection) start() {
	c.flusher.Start()

	watcher, err := NewWatcher(c.path, c.peer, c.MergeRemoteOps, c.reloadSecrets, c.logger.Named("opstore.watcher"))
	if err != nil {
		// One-way mode: our writes still land, we just stop seeing other
		// peers' live appends until reopened.
		c.logger.Warnw("Failed to watch space directory, running write-only",
			"error", err.Error(),
		)
	} else {
		c.watcher = watcher
		watcher.Start()
	}

	go c.secretsLoop()
}

// Space returns the connected space. Use Do for any access that mutates or
// reads tree state.
func (c *Connection) Space() *space.Space { return c.space }

// PeerID returns the peer this connection writes ops as.
func (c *Connection) PeerID() string { return c.peer }

// Path returns the space directory.
func (c *Connection) Path() string { return c.path }

// Connected reports whether the connection is still open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Do runs fn with exclusive access to the space and its trees.
func (c *Connection) Do(fn func(*space.Space)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.space)
}

// Flush appends buffered local ops now instead of waiting for the next
// tick.
func (c *Connection) Flush() error {
	return c.flusher.Flush()
}

// Close stops the watcher, halts the flush loop after a final flush, and
// writes the secrets blob if it changed.
func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	var errs error
	if c.watcher != nil {
		errs = errors.CombineErrors(errs, c.watcher.Close())
	}
	close(c.secretsStop)
	<-c.secretsDone
	errs = errors.CombineErrors(errs, c.flusher.Stop())
	errs = errors.CombineErrors(errs, c.saveSecretsIfChanged())
	return errs
}

// drainLocalOps pops every loaded tree's local ops, keyed by tree id.
func (c *Connection) drainLocalOps() map[string][]reptree.Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]reptree.Op)
	for _, tree := range c.space.Trees() {
		if ops := tree.PopLocalOps(); len(ops) > 0 {
			out[tree.RootVertexID()] = ops
		}
	}
	return out
}

// MergeRemoteOps routes remote ops to the space tree or, for app trees, to
// the tree if it is loaded. Ops for unloaded app trees are dropped; they
// will be replayed from disk when the tree loads. Both the fs watcher and
// wire peers ingest through here.
func (c *Connection) MergeRemoteOps(treeID string, ops []reptree.Op) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if treeID == c.space.ID() {
		c.space.Tree().Merge(ops)
		return
	}
	if at, ok := c.space.LoadedAppTree(treeID); ok {
		at.Tree().Merge(ops)
	}
}

// loadTree is the space's tree loader: replay an app tree's op history.
func (c *Connection) loadTree(treeID string) (*reptree.Tree, error) {
	ops, err := LoadTreeOps(c.path, treeID, c.logger)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.Wrapf(space.ErrMissingTree, "no ops on disk for tree %s", treeID)
	}
	return reptree.New(c.peer, ops), nil
}

func (c *Connection) secretsLoop() {
	defer close(c.secretsDone)
	ticker := time.NewTicker(SecretsPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.saveSecretsIfChanged(); err != nil {
				c.logger.Warnw("Secrets save failed, will retry",
					"error", err.Error(),
				)
			}
		case <-c.secretsStop:
			return
		}
	}
}

// saveSecretsIfChanged writes the blob only when the map differs from the
// last read or written state, so the file is not churned every poll.
func (c *Connection) saveSecretsIfChanged() error {
	c.mu.Lock()
	secrets := c.space.Secrets()
	unchanged := maps.Equal(secrets, c.lastSecrets)
	spaceID := c.space.ID()
	c.mu.Unlock()

	if unchanged {
		return nil
	}

	blob, err := space.EncryptSecrets(spaceID, secrets)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.path, SecretsFile), []byte(blob), 0o600); err != nil {
		return errors.Wrap(err, "failed to write secrets file")
	}

	c.mu.Lock()
	c.lastSecrets = secrets
	c.mu.Unlock()
	return nil
}

// loadSecretsFromDisk reads the blob on open. A missing file means no
// secrets yet; a blob that fails to decrypt degrades to an empty map so the
// space stays usable.
func (c *Connection) loadSecretsFromDisk() {
	data, err := os.ReadFile(filepath.Join(c.path, SecretsFile))
	if err != nil {
		return
	}
	secrets, err := space.DecryptSecrets(c.space.ID(), string(data))
	if err != nil {
		c.logger.Warnw("Failed to decrypt secrets, starting with an empty map",
			"error", err.Error(),
		)
		secrets = map[string]string{}
	}
	c.mu.Lock()
	c.space.ReplaceSecrets(secrets)
	c.lastSecrets = maps.Clone(secrets)
	c.mu.Unlock()
}

// reloadSecrets re-reads the blob after the watcher saw it change. Our own
// writes decrypt to the map we already hold, so the replace is idempotent.
func (c *Connection) reloadSecrets() {
	c.loadSecretsFromDisk()
}
