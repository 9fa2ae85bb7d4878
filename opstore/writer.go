package opstore

import (
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
)

// DefaultFlushInterval is how often buffered local ops are appended to disk.
const DefaultFlushInterval = 500 * time.Millisecond

// DrainFunc returns the local ops buffered per tree id since the last call.
// The connection supplies one that pops every loaded tree under its lock.
type DrainFunc func() map[string][]reptree.Op

// Flusher periodically drains local-op buffers and appends them to this
// peer's current-day files. Only ops generated by the owning peer are ever
// written — remote ops arrive by sync and are persisted by their own peers.
type Flusher struct {
	spacePath string
	peer      string
	interval  time.Duration
	drain     DrainFunc
	logger    *zap.SugaredLogger

	mu       stdsync.Mutex
	flushing bool
	// carry holds ops whose append failed; they retry next tick.
	carry map[string][]reptree.Op

	stop chan struct{}
	done chan struct{}
}

// NewFlusher builds a flusher for the peer's ops under spacePath.
func NewFlusher(spacePath, peer string, drain DrainFunc, logger *zap.SugaredLogger) *Flusher {
	return &Flusher{
		spacePath: spacePath,
		peer:      peer,
		interval:  DefaultFlushInterval,
		drain:     drain,
		logger:    logger,
		carry:     make(map[string][]reptree.Op),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (f *Flusher) Start() {
	go func() {
		defer close(f.done)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := f.Flush(); err != nil {
					f.logger.Warnw("Op flush failed, will retry",
						"error", err.Error(),
					)
				}
			case <-f.stop:
				return
			}
		}
	}()
}

// Stop halts the loop, waits for any in-flight flush, and flushes once more
// so no buffered op is lost on a clean shutdown.
func (f *Flusher) Stop() error {
	close(f.stop)
	<-f.done
	return f.Flush()
}

// Flush drains and appends once. Overlapping calls are skipped: if a flush
// is already in progress the new call returns immediately and the ops stay
// buffered for the next tick.
func (f *Flusher) Flush() error {
	f.mu.Lock()
	if f.flushing {
		f.mu.Unlock()
		return nil
	}
	f.flushing = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.flushing = false
		f.mu.Unlock()
	}()

	byTree := f.drain()
	for treeID, ops := range byTree {
		f.carry[treeID] = append(f.carry[treeID], ops...)
	}

	day := Day(time.Now())
	var firstErr error
	for treeID, ops := range f.carry {
		persistable := persistableOps(ops)
		if len(persistable) == 0 {
			delete(f.carry, treeID)
			continue
		}
		if err := f.appendOps(treeID, day, persistable); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(f.carry, treeID)
	}
	return firstErr
}

func (f *Flusher) appendOps(treeID, day string, ops []reptree.Op) error {
	data, err := reptree.EncodeOps(ops)
	if err != nil {
		return errors.Wrapf(err, "failed to encode ops for tree %s", treeID)
	}

	path := PeerFile(f.spacePath, treeID, day, f.peer)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create op directory for tree %s", treeID)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to open op file %s", path)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return errors.Wrapf(err, "failed to append ops to %s", path)
	}

	f.logger.Debugw("Flushed ops",
		"tree", treeID,
		"count", len(ops),
		"file", path,
	)
	return nil
}

// persistableOps filters out transient property ops.
func persistableOps(ops []reptree.Op) []reptree.Op {
	out := make([]reptree.Op, 0, len(ops))
	for _, op := range ops {
		if p, ok := op.(reptree.SetPropertyOp); ok && p.Transient {
			continue
		}
		out = append(out, op)
	}
	return out
}
