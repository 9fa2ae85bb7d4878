// Package sync exchanges tree operations between live peers over a duplex
// JSON channel, and routes request/response and broadcast envelopes for the
// layers above the tree engine.
//
// Protocol flow:
//
//	1. Both sides send Hello (protocol version, peer id, space id)
//	2. Each side streams an initial snapshot: every tree's op history,
//	   framed per (tree, originating peer)
//	3. Afterwards, locally generated ops are pushed as they happen
//	4. Request/response and broadcast envelopes interleave freely
//
// Ordering on the wire is not required — the engine merge is commutative,
// and duplicate deliveries are dropped by the applied-op set.
package sync

import "encoding/json"

// ProtocolVersion is advertised in the hello frame. Peers with a different
// major version refuse to sync.
const ProtocolVersion = "1.0.0"

// MsgType identifies the wire message kind.
type MsgType string

const (
	// MsgHello is the handshake: protocol version, peer id, space id.
	MsgHello MsgType = "hello"

	// MsgSnapshot carries one (tree, peer) slice of the initial op history.
	MsgSnapshot MsgType = "snapshot"

	// MsgOps carries ops generated after the snapshot, same framing.
	MsgOps MsgType = "ops"

	// MsgRequest and MsgResponse carry router envelopes.
	MsgRequest  MsgType = "request"
	MsgResponse MsgType = "response"

	// MsgBroadcast carries a fire-and-forget router envelope fanned out to
	// every connected peer that accepts it.
	MsgBroadcast MsgType = "broadcast"
)

// Msg is the envelope for all wire messages.
type Msg struct {
	Type MsgType `json:"type"`

	// Hello
	Version string `json:"version,omitempty"`
	Peer    string `json:"peer,omitempty"`
	SpaceID string `json:"space_id,omitempty"`

	// Snapshot / Ops: JSONL op lines for one tree, all originated by
	// OpsPeer. The peer id travels on the frame, not the lines, exactly as
	// it lives in the file name on disk.
	TreeID  string   `json:"tree_id,omitempty"`
	OpsPeer string   `json:"ops_peer,omitempty"`
	Lines   []string `json:"lines,omitempty"`

	// Request / Response / Broadcast
	Envelope *Envelope `json:"envelope,omitempty"`
}

// Envelope is the opaque request/response form the core shuttles between
// peers and route handlers. Data and Response are left as raw JSON; the
// engine never interprets them.
type Envelope struct {
	ID       string            `json:"id,omitempty"`
	Route    string            `json:"route"`
	Verb     Verb              `json:"verb,omitempty"`
	Action   BroadcastAction   `json:"action,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Response json.RawMessage   `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}
