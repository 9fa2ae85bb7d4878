package reptree

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Reserved property keys.
const (
	// NameKey holds a vertex's name.
	NameKey = "_n"

	// CreatedAtKey holds a vertex's creation timestamp, set once by the
	// creating peer.
	CreatedAtKey = "_c"

	// tombstoneName names the reserved parent that deleted vertices are
	// moved under. Deleted vertices are never garbage collected; keeping
	// them lets late-arriving ops for their subtrees still resolve.
	tombstoneName = "tombstone"
)

// Tree is a replicated tree engine. Every mutation becomes an operation with
// a fresh OpID; merging the same op multiset in any order converges to the
// same state on every peer.
//
// Tree is single-writer by design: all methods must be called from one
// goroutine. Hosts on multithreaded runtimes wrap the tree in a single-owner
// loop and pass ops over a channel.
type Tree struct {
	peer    string
	counter uint64

	store  *vertexStore
	rootID string

	applied map[OpID]struct{}

	// moveLog holds every processed move in OpID order. An out-of-order
	// arrival undoes the newer suffix, inserts, and reapplies, so parents
	// and child order are always those of an in-order replay.
	moveLog []moveRecord

	// pendingMoves buffers moves whose parent has not been created yet,
	// keyed by the missing parent id. pendingProps buffers property ops
	// whose target has not been created, keyed by target.
	pendingMoves map[string][]MoveOp
	pendingProps map[string][]SetPropertyOp

	queue    []Op
	draining bool

	// localOps buffers ops generated by this peer until the persistence
	// layer pops them.
	localOps []Op

	opApplied signal[Op]
}

type moveRecord struct {
	op MoveOp

	// accepted is false when the move was rejected: it would have created a
	// cycle, re-rooted the tree, or moved the root. Rejected records stay in
	// the log so the op is never retried and replays stay deterministic.
	accepted bool

	// created marks the move that first brought its target into existence.
	created bool

	// oldParent is the target's parent before this move, for undo.
	// Meaningful only when accepted and not created.
	oldParent *string
}

// New constructs a tree for peer and folds initialOps, which may be any
// permutation of an op multiset.
func New(peer string, initialOps []Op) *Tree {
	t := &Tree{
		peer:         peer,
		store:        newVertexStore(),
		applied:      make(map[OpID]struct{}),
		pendingMoves: make(map[string][]MoveOp),
		pendingProps: make(map[string][]SetPropertyOp),
	}
	if len(initialOps) > 0 {
		t.Merge(initialOps)
	}
	return t
}

// PeerID returns the id of the peer that owns this engine instance.
func (t *Tree) PeerID() string { return t.peer }

// RootVertexID returns the id of the tree's root vertex, or "" if no root
// op has been applied yet.
func (t *Tree) RootVertexID() string { return t.rootID }

// Root returns the root vertex, or nil before bootstrap.
func (t *Tree) Root() *Vertex {
	if t.rootID == "" {
		return nil
	}
	return t.Vertex(t.rootID)
}

// Vertex returns a handle for id, or nil if no vertex with that id exists.
// The handle holds no state of its own; it reads through to the store.
func (t *Tree) Vertex(id string) *Vertex {
	if !t.store.contains(id) {
		return nil
	}
	return &Vertex{tree: t, id: id}
}

// HasVertex reports whether a vertex with id exists in the store.
func (t *Tree) HasVertex(id string) bool { return t.store.contains(id) }

// VertexIDs returns all vertex ids in the store, sorted.
func (t *Tree) VertexIDs() []string { return t.store.ids() }

// nextOpID allocates a fresh op id. The counter is Lamport-style: Merge
// bumps it past every remote counter seen, so local ops always order after
// everything this peer has observed.
func (t *Tree) nextOpID() OpID {
	t.counter++
	return OpID{Counter: t.counter, Peer: t.peer}
}

// NewRoot creates the root vertex. Exactly one root op is emitted per tree,
// by whichever peer bootstraps it.
func (t *Tree) NewRoot(props map[string]any) string {
	id := uuid.NewString()
	t.applyLocal(NewMoveOp(t.nextOpID(), id, nil))
	t.setCreationProps(id, props)
	return id
}

// NewVertex creates a vertex under parentID with the given properties plus a
// creation timestamp, and returns its id.
func (t *Tree) NewVertex(parentID string, props map[string]any) string {
	id := uuid.NewString()
	t.applyLocal(NewMoveOp(t.nextOpID(), id, &parentID))
	t.setCreationProps(id, props)
	return id
}

func (t *Tree) setCreationProps(id string, props map[string]any) {
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, k := range sortedKeys(props) {
		t.applyLocal(NewSetPropertyOp(t.nextOpID(), id, k, normalizeValue(props[k])))
	}
	if _, set := props[CreatedAtKey]; !set {
		t.applyLocal(NewSetPropertyOp(t.nextOpID(), id, CreatedAtKey, createdAt))
	}
}

// MoveVertex reparents a vertex.
func (t *Tree) MoveVertex(id, newParentID string) {
	t.applyLocal(NewMoveOp(t.nextOpID(), id, &newParentID))
}

// DeleteVertex moves a vertex and, recursively, its descendants under the
// tree's tombstone vertex. Nothing is removed from the store.
func (t *Tree) DeleteVertex(id string) {
	tomb := t.ensureTombstone()
	if tomb == "" || id == tomb || id == t.rootID {
		return
	}
	// Collect the subtree before moving anything; moves mutate child lists.
	subtree := []string{id}
	for i := 0; i < len(subtree); i++ {
		subtree = append(subtree, t.store.children(subtree[i])...)
	}
	for _, v := range subtree {
		t.MoveVertex(v, tomb)
	}
}

// IsDeleted reports whether id sits under the tombstone vertex.
func (t *Tree) IsDeleted(id string) bool {
	tomb := t.tombstoneID()
	if tomb == "" {
		return false
	}
	for cur := id; cur != ""; {
		if cur == tomb {
			return true
		}
		parent, ok := t.store.parent(cur)
		if !ok || parent == nil {
			return false
		}
		cur = *parent
	}
	return false
}

// tombstoneID derives the reserved tombstone vertex id. It is a function of
// the root id so concurrent deleters on different peers converge on a single
// tombstone vertex.
func (t *Tree) tombstoneID() string {
	if t.rootID == "" {
		return ""
	}
	return t.rootID + ":" + tombstoneName
}

func (t *Tree) ensureTombstone() string {
	tomb := t.tombstoneID()
	if tomb == "" {
		return ""
	}
	if !t.store.contains(tomb) {
		root := t.rootID
		t.applyLocal(NewMoveOp(t.nextOpID(), tomb, &root))
		t.applyLocal(NewSetPropertyOp(t.nextOpID(), tomb, NameKey, tombstoneName))
	}
	return tomb
}

// SetVertexProperty sets a property, emitting a SetProperty op. Setting a
// value equal to the current one is a no-op only when this peer was the last
// writer; when another peer last wrote the key, the op is still emitted so
// every peer converges on a writer both sides agree on.
func (t *Tree) SetVertexProperty(id, key string, value any) {
	value = normalizeValue(value)
	if cur, lastOp, ok := t.store.property(id, key); ok {
		if lastOp.Peer == t.peer && valueEqual(cur, value) {
			return
		}
	}
	t.applyLocal(NewSetPropertyOp(t.nextOpID(), id, key, value))
}

// SetTransientVertexProperty sets a property that is applied in memory and
// offered to live peers but never written to the op store.
func (t *Tree) SetTransientVertexProperty(id, key string, value any) {
	op := NewSetPropertyOp(t.nextOpID(), id, key, normalizeValue(value))
	op.Transient = true
	t.applyLocal(op)
}

// GetVertexProperty returns the applied value for (id, key).
func (t *Tree) GetVertexProperty(id, key string) (any, bool) {
	v, _, ok := t.store.property(id, key)
	if !ok || v == Absent {
		return nil, false
	}
	return v, true
}

// Merge folds remote ops into the tree. Any permutation of the same multiset
// produces the same state. Ops already applied are skipped.
func (t *Tree) Merge(ops []Op) {
	for _, op := range ops {
		if c := op.ID().Counter; c > t.counter {
			t.counter = c
		}
	}
	t.enqueue(ops...)
}

// PopLocalOps returns and clears the ops generated by this peer since the
// last call. Transient ops are included; the op store filters them out,
// wire peers forward them.
func (t *Tree) PopLocalOps() []Op {
	ops := t.localOps
	t.localOps = nil
	return ops
}

// ObserveOpApplied registers cb to run after every op is processed, local or
// remote, once state reflects it. The returned function deregisters.
func (t *Tree) ObserveOpApplied(cb func(Op)) func() {
	return t.opApplied.subscribe(cb)
}

// ObserveVertexMove registers cb to run after any vertex changes parent.
func (t *Tree) ObserveVertexMove(cb func(vertexID string)) func() {
	return t.store.observeAll(func(ev VertexEvent) {
		if ev.Kind == EventMove {
			cb(ev.VertexID)
		}
	})
}

// ObserveVertex registers cb for change events on one vertex.
func (t *Tree) ObserveVertex(id string, cb func(VertexEvent)) func() {
	return t.store.observe(id, cb)
}

// Snapshot returns a deterministic projection of the current state.
func (t *Tree) Snapshot() Snapshot { return t.store.snapshot() }

// applyLocal runs a locally generated op through the apply queue and buffers
// it for persistence.
func (t *Tree) applyLocal(op Op) {
	t.localOps = append(t.localOps, op)
	t.enqueue(op)
}

// enqueue feeds ops into the apply queue and drains it to a fixed point.
// Observer callbacks may generate further ops; those nest onto the same
// queue and are drained by the outermost call.
func (t *Tree) enqueue(ops ...Op) {
	t.queue = append(t.queue, ops...)
	if t.draining {
		return
	}
	t.draining = true
	defer func() { t.draining = false }()
	for len(t.queue) > 0 {
		op := t.queue[0]
		t.queue = t.queue[1:]
		t.applyOne(op)
	}
}

func (t *Tree) applyOne(op Op) {
	if _, dup := t.applied[op.ID()]; dup {
		return
	}
	switch o := op.(type) {
	case SetPropertyOp:
		if !t.store.contains(o.Target) {
			t.pendingProps[o.Target] = append(t.pendingProps[o.Target], o)
			return
		}
		t.applied[o.OpID] = struct{}{}
		t.store.applyProperty(o.Target, o.Key, o.Value, o.OpID)
		t.opApplied.emit(o)

	case MoveOp:
		if o.ParentID != nil && !t.store.contains(*o.ParentID) {
			t.pendingMoves[*o.ParentID] = append(t.pendingMoves[*o.ParentID], o)
			return
		}
		t.applied[o.OpID] = struct{}{}
		existed := t.store.contains(o.Target)
		t.applyMoveOrdered(o)
		if !existed && t.store.contains(o.Target) {
			t.releasePending(o.Target)
		}
		t.opApplied.emit(o)
	}
}

// releasePending re-queues ops that were waiting for id to be created.
func (t *Tree) releasePending(id string) {
	if moves, ok := t.pendingMoves[id]; ok {
		delete(t.pendingMoves, id)
		for _, m := range moves {
			t.queue = append(t.queue, m)
		}
	}
	if props, ok := t.pendingProps[id]; ok {
		delete(t.pendingProps, id)
		for _, p := range props {
			t.queue = append(t.queue, p)
		}
	}
}

// applyMoveOrdered inserts op into the move log at its OpID position. Moves
// already applied with greater OpIDs are undone, the op is applied, and the
// suffix is reapplied. This keeps the state identical to an in-order replay
// of the whole log — the property that makes concurrent moves, and cycle
// rejection in particular, converge on every peer.
func (t *Tree) applyMoveOrdered(op MoveOp) {
	n := len(t.moveLog)
	if n == 0 || op.OpID.After(t.moveLog[n-1].op.OpID) {
		rec := moveRecord{op: op}
		t.tryApplyMove(&rec)
		t.moveLog = append(t.moveLog, rec)
		return
	}

	i := sort.Search(n, func(j int) bool {
		return t.moveLog[j].op.OpID.After(op.OpID)
	})

	// Capture the pre-reorder position of every vertex the suffix touches,
	// so the net changes can be announced afterwards.
	type position struct {
		exists bool
		parent *string
	}
	affected := make(map[string]position, n-i+1)
	note := func(id string) {
		if _, ok := affected[id]; ok {
			return
		}
		parent, exists := t.store.parent(id)
		affected[id] = position{exists: exists, parent: parent}
	}
	note(op.Target)
	for j := i; j < n; j++ {
		note(t.moveLog[j].op.Target)
	}

	// The undo/reapply below is bookkeeping, not applied state; observers
	// must not see vertices flicker out of existence. Events stay muted
	// until the log is consistent again.
	t.store.mute()
	for j := n - 1; j >= i; j-- {
		t.undoMove(&t.moveLog[j])
	}
	t.moveLog = append(t.moveLog, moveRecord{})
	copy(t.moveLog[i+1:], t.moveLog[i:])
	t.moveLog[i] = moveRecord{op: op}
	for j := i; j < len(t.moveLog); j++ {
		rec := moveRecord{op: t.moveLog[j].op}
		t.tryApplyMove(&rec)
		t.moveLog[j] = rec
	}
	t.store.unmute()

	// Announce net effects once, in log order.
	for j := i; j < len(t.moveLog); j++ {
		target := t.moveLog[j].op.Target
		prev, ok := affected[target]
		if !ok {
			continue
		}
		delete(affected, target)
		parent, exists := t.store.parent(target)
		switch {
		case !prev.exists && exists:
			t.store.emitParentChanged(target, nil, parent)
			t.releasePending(target)
		case prev.exists && !exists:
			// The vertex is gone (its creation lost on replay); only the
			// old parent's child list is observable state.
			if prev.parent != nil {
				t.store.emit(VertexEvent{Kind: EventChildren, VertexID: *prev.parent})
			}
		case prev.exists && exists && !sameParent(prev.parent, parent):
			t.store.emitParentChanged(target, prev.parent, parent)
		}
	}
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// tryApplyMove applies one move against current state, deciding acceptance.
func (t *Tree) tryApplyMove(rec *moveRecord) {
	op := rec.op

	if op.ParentID == nil {
		// Root bootstrap. A second root, or re-rooting an existing vertex,
		// is rejected.
		if t.rootID != "" || t.store.contains(op.Target) {
			return
		}
		t.store.create(op.Target, nil)
		t.rootID = op.Target
		rec.accepted = true
		rec.created = true
		return
	}

	// Replays can momentarily run before the parent's creating move; such a
	// move is rejected rather than left dangling.
	if !t.store.contains(*op.ParentID) {
		return
	}

	if !t.store.contains(op.Target) {
		t.store.create(op.Target, op.ParentID)
		rec.accepted = true
		rec.created = true
		return
	}

	// The root is never moved.
	if op.Target == t.rootID {
		return
	}

	// Cycle check: walk ancestors from the proposed parent; seeing the
	// target means this move would make it its own ancestor.
	for cur := *op.ParentID; ; {
		if cur == op.Target {
			return
		}
		parent, ok := t.store.parent(cur)
		if !ok || parent == nil {
			break
		}
		cur = *parent
	}

	cur, _ := t.store.parent(op.Target)
	rec.oldParent = cur
	rec.accepted = true
	t.store.setParent(op.Target, op.ParentID)
}

func (t *Tree) undoMove(rec *moveRecord) {
	if !rec.accepted {
		return
	}
	if rec.created {
		// Detach, don't delete: the vertex's properties must survive the
		// reorder, since property ops are never replayed.
		t.store.detach(rec.op.Target)
		if rec.op.ParentID == nil && t.rootID == rec.op.Target {
			t.rootID = ""
		}
		return
	}
	t.store.setParent(rec.op.Target, rec.oldParent)
}

// valueEqual compares property values, descending into arrays.
func valueEqual(a, b any) bool {
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok || bok {
		if !aok || !bok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valueEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
