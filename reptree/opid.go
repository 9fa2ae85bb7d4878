package reptree

import (
	"fmt"
	"strconv"
	"strings"
)

// OpID uniquely identifies an operation across all peers of a tree.
//
// The Counter is a per-peer Lamport clock: every locally generated op takes
// counter = max(highest counter seen, local counter) + 1. Two ops from
// different peers can share a counter; the peer id breaks the tie, so the
// order over all OpIDs is total. Last-writer-wins resolution on both
// properties and parents is defined against this order.
type OpID struct {
	Counter uint64
	Peer    string
}

// Compare returns -1, 0 or +1 ordering a against b: counter first,
// lexicographic peer id on ties.
func (a OpID) Compare(b OpID) int {
	switch {
	case a.Counter < b.Counter:
		return -1
	case a.Counter > b.Counter:
		return 1
	}
	return strings.Compare(a.Peer, b.Peer)
}

// After reports whether a wins against b under LWW.
func (a OpID) After(b OpID) bool {
	return a.Compare(b) > 0
}

// IsZero reports whether the id is the zero value (no op).
func (a OpID) IsZero() bool {
	return a.Counter == 0 && a.Peer == ""
}

// String renders the id as "<counter>@<peer>", the form used in logs.
func (a OpID) String() string {
	return fmt.Sprintf("%d@%s", a.Counter, a.Peer)
}

// ParseOpID parses the "<counter>@<peer>" form produced by String.
func ParseOpID(s string) (OpID, error) {
	counter, peer, ok := strings.Cut(s, "@")
	if !ok {
		return OpID{}, fmt.Errorf("malformed op id %q", s)
	}
	c, err := strconv.ParseUint(counter, 10, 64)
	if err != nil {
		return OpID{}, fmt.Errorf("malformed op id counter %q: %w", counter, err)
	}
	return OpID{Counter: c, Peer: peer}, nil
}
