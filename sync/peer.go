package sync

import (
	"context"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/opstore"
	"github.com/weftwork/weft/reptree"
	"github.com/weftwork/weft/space"
)

// Conn abstracts the WebSocket connection for testability. The real
// implementation wraps gorilla/websocket; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// outboxSize bounds frames queued for write. A peer that cannot keep up
// starts dropping live op frames; it reconciles from the next snapshot.
const outboxSize = 256

// Peer manages one live sync session over a duplex connection. Both sides
// of the connection run the same code — the protocol is symmetric.
type Peer struct {
	conn   Conn
	space  *opstore.Connection
	router *Router
	logger *zap.SugaredLogger

	// Relay, when set, receives every inbound op frame after it merged;
	// the hub uses it to fan frames out to other connected peers.
	Relay func(Msg)

	remotePeer string
	outbox     chan Msg
	unobserve  []func()
}

// NewPeer creates a sync peer for one connection to the given space.
func NewPeer(conn Conn, spaceConn *opstore.Connection, router *Router, logger *zap.SugaredLogger) *Peer {
	return &Peer{
		conn:   conn,
		space:  spaceConn,
		router: router,
		logger: logger,
		outbox: make(chan Msg, outboxSize),
	}
}

// RemotePeer returns the peer id learned from the hello exchange.
func (p *Peer) RemotePeer() string { return p.remotePeer }

// Run performs the hello exchange, streams the initial snapshot, then pumps
// frames both ways until the connection fails or ctx is canceled.
func (p *Peer) Run(ctx context.Context) error {
	if err := p.hello(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ReadJSON does not watch ctx; closing the connection is what unblocks
	// the read loop on cancellation.
	go func() {
		<-ctx.Done()
		_ = p.conn.Close()
	}()

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- p.writeLoop(ctx)
	}()

	// Observers first, snapshot second: an op generated in between is both
	// forwarded live and present in the snapshot, and dedup eats the copy.
	// The other order would drop it.
	p.observeLocalOps()
	defer p.stopObserving()
	if err := p.sendSnapshot(); err != nil {
		return err
	}

	readErr := p.readLoop(ctx)
	cancel()
	p.conn.Close()
	<-writerDone
	return readErr
}

// Send queues one frame for write. Frames are dropped when the outbox is
// full rather than blocking the engine.
func (p *Peer) Send(msg Msg) {
	select {
	case p.outbox <- msg:
	default:
		p.logger.Warnw("Sync outbox full, dropping frame",
			"type", string(msg.Type),
			"tree", msg.TreeID,
		)
	}
}

func (p *Peer) hello() error {
	if err := p.conn.WriteJSON(Msg{
		Type:    MsgHello,
		Version: ProtocolVersion,
		Peer:    p.space.PeerID(),
		SpaceID: p.space.Space().ID(),
	}); err != nil {
		return errors.Wrap(err, "failed to send sync hello")
	}

	var hello Msg
	if err := p.conn.ReadJSON(&hello); err != nil {
		return errors.Wrap(err, "failed to receive sync hello")
	}
	if hello.Type != MsgHello {
		return errors.Newf("expected hello, got %s", hello.Type)
	}

	ours, err := semver.NewVersion(ProtocolVersion)
	if err != nil {
		return errors.Wrap(err, "invalid local protocol version")
	}
	theirs, err := semver.NewVersion(hello.Version)
	if err != nil {
		return errors.Wrapf(err, "peer sent unparsable protocol version %q", hello.Version)
	}
	if ours.Major() != theirs.Major() {
		return errors.Newf("incompatible sync protocol: ours %s, theirs %s", ProtocolVersion, hello.Version)
	}

	if hello.SpaceID != p.space.Space().ID() {
		return errors.Newf("peer syncs space %s, we hold %s", hello.SpaceID, p.space.Space().ID())
	}

	p.remotePeer = hello.Peer
	p.logger.Debugw("Sync hello complete",
		"remote_peer", p.remotePeer,
	)
	return nil
}

// sendSnapshot streams the full op history of every tree from disk, framed
// per (tree, originating peer). Buffered local ops are flushed first so the
// disk is complete.
func (p *Peer) sendSnapshot() error {
	if err := p.space.Flush(); err != nil {
		return err
	}

	var treeIDs []string
	p.space.Do(func(sp *space.Space) {
		treeIDs = append([]string{sp.ID()}, sp.AppTreeIDs()...)
	})

	for _, treeID := range treeIDs {
		ops, err := opstore.LoadTreeOps(p.space.Path(), treeID, p.logger)
		if err != nil {
			return err
		}
		for opsPeer, lines := range linesByPeer(ops) {
			p.Send(Msg{
				Type:    MsgSnapshot,
				TreeID:  treeID,
				OpsPeer: opsPeer,
				Lines:   lines,
			})
		}
	}
	return nil
}

// observeLocalOps forwards ops this peer generates from now on. Only ops
// originated here are pushed — remote ops were either in the snapshot or
// are relayed by the hub, and echoing them back would just burn dedup work.
func (p *Peer) observeLocalOps() {
	self := p.space.PeerID()
	p.space.Do(func(sp *space.Space) {
		for _, tree := range sp.Trees() {
			treeID := tree.RootVertexID()
			unsub := tree.ObserveOpApplied(func(op reptree.Op) {
				if op.ID().Peer != self {
					return
				}
				line, err := reptree.EncodeOp(op)
				if err != nil {
					return
				}
				p.Send(Msg{
					Type:    MsgOps,
					TreeID:  treeID,
					OpsPeer: self,
					Lines:   []string{string(line)},
				})
			})
			p.unobserve = append(p.unobserve, unsub)
		}
	})
}

func (p *Peer) stopObserving() {
	p.space.Do(func(*space.Space) {
		for _, unsub := range p.unobserve {
			unsub()
		}
		p.unobserve = nil
	})
}

func (p *Peer) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-p.outbox:
			if err := p.conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Peer) readLoop(ctx context.Context) error {
	for {
		var msg Msg
		if err := p.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch msg.Type {
		case MsgSnapshot, MsgOps:
			p.ingestOps(msg)

		case MsgRequest:
			if msg.Envelope == nil {
				continue
			}
			resp := p.router.Dispatch(msg.Envelope)
			p.Send(Msg{Type: MsgResponse, Envelope: resp})

		case MsgBroadcast:
			if msg.Envelope == nil {
				continue
			}
			if err := p.router.Validate(msg.Envelope); err != nil {
				p.logger.Warnw("Rejected broadcast",
					"route", msg.Envelope.Route,
					"error", err.Error(),
				)
				continue
			}
			p.router.Dispatch(msg.Envelope)
			if p.Relay != nil {
				p.Relay(msg)
			}

		case MsgResponse:
			// Responses are ignored; this peer sends no requests of its
			// own.

		default:
			p.logger.Debugw("Ignoring unknown sync frame",
				"type", string(msg.Type),
			)
		}
	}
}

// ingestOps decodes one frame's lines and merges them. Frames carrying our
// own ops are skipped.
func (p *Peer) ingestOps(msg Msg) {
	if msg.OpsPeer == "" || msg.OpsPeer == p.space.PeerID() {
		return
	}
	ops := make([]reptree.Op, 0, len(msg.Lines))
	for _, line := range msg.Lines {
		op, err := reptree.DecodeOp([]byte(line), msg.OpsPeer)
		if err != nil {
			p.logger.Warnw("Skipping malformed wire op",
				"tree", msg.TreeID,
				"error", err.Error(),
			)
			continue
		}
		ops = append(ops, op)
	}
	if len(ops) == 0 {
		return
	}
	p.space.MergeRemoteOps(msg.TreeID, ops)
	if p.Relay != nil {
		p.Relay(msg)
	}
}

func linesByPeer(ops []reptree.Op) map[string][]string {
	out := make(map[string][]string)
	for _, op := range ops {
		line, err := reptree.EncodeOp(op)
		if err != nil {
			continue
		}
		peer := op.ID().Peer
		out[peer] = append(out[peer], string(line))
	}
	return out
}
