package opstore

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
)

// Watcher observes a space directory for op files appended by other peers
// and for changes to the secrets blob. Own files are ignored — this peer
// wrote them itself. Watching is best effort: if it cannot be established
// the space still works, it just stops seeing other peers' live writes.
type Watcher struct {
	spacePath string
	selfPeer  string
	fsw       *fsnotify.Watcher
	logger    *zap.SugaredLogger

	// onOps receives freshly read remote ops per tree. Merge dedups, so
	// re-reading a whole file on every append event stays correct.
	onOps     func(treeID string, ops []reptree.Op)
	onSecrets func()

	done chan struct{}
}

// NewWatcher builds a watcher rooted at spacePath. Call Start to begin
// receiving events.
func NewWatcher(spacePath, selfPeer string, onOps func(string, []reptree.Op), onSecrets func(), logger *zap.SugaredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fs watcher")
	}

	w := &Watcher{
		spacePath: spacePath,
		selfPeer:  selfPeer,
		fsw:       fsw,
		logger:    logger,
		onOps:     onOps,
		onSecrets: onSecrets,
		done:      make(chan struct{}),
	}

	// fsnotify does not recurse; every directory is added explicitly, and
	// directories created later are picked up from create events.
	if err := w.addRecursive(spacePath); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Start launches the event loop.
func (w *Watcher) Start() {
	go w.loop()
}

// Close stops watching. The event loop drains and exits.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Space watcher error",
				"error", err.Error(),
			)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if filepath.Base(event.Name) == SecretsFile && filepath.Dir(event.Name) == filepath.Clean(w.spacePath) {
		w.onSecrets()
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// A new day or tree directory; watch it and ingest any files
			// that landed before the watch was in place.
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warnw("Failed to watch new directory",
					"dir", event.Name,
					"error", err.Error(),
				)
			}
			w.scanExisting(event.Name)
			return
		}
	}

	if strings.HasSuffix(event.Name, opsFileExt) {
		w.ingestFile(event.Name)
	}
}

// ingestFile reads one peer file fully and hands its ops to the merge
// callback. Files written by this peer are skipped.
func (w *Watcher) ingestFile(path string) {
	treeID, peer, ok := ParseOpsPath(w.spacePath, path)
	if !ok {
		return
	}
	if peer == w.selfPeer {
		return
	}

	ops, err := ReadOpsFile(path, peer, w.logger)
	if err != nil {
		w.logger.Warnw("Failed to read remote op file",
			"file", path,
			"error", err.Error(),
		)
		return
	}
	if len(ops) == 0 {
		return
	}

	w.logger.Debugw("Ingesting remote ops",
		"tree", treeID,
		"peer", peer,
		"count", len(ops),
	)
	w.onOps(treeID, ops)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return errors.Wrapf(err, "failed to watch %s", path)
			}
		}
		return nil
	})
}

func (w *Watcher) scanExisting(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, opsFileExt) {
			w.ingestFile(path)
		}
		return nil
	})
}
