package reptree

import (
	"bytes"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestEncodeMoveOp(t *testing.T) {
	op := NewMoveOp(OpID{Counter: 7, Peer: "p1"}, "v1", strPtr("v0"))
	line, err := EncodeOp(op)
	if err != nil {
		t.Fatal(err)
	}
	want := `["m",7,"v1","v0"]`
	if string(line) != want {
		t.Fatalf("got %s, want %s", line, want)
	}
}

func TestEncodeMoveOpNilParent(t *testing.T) {
	op := NewMoveOp(OpID{Counter: 1, Peer: "p1"}, "root", nil)
	line, err := EncodeOp(op)
	if err != nil {
		t.Fatal(err)
	}
	want := `["m",1,"root",null]`
	if string(line) != want {
		t.Fatalf("got %s, want %s", line, want)
	}
}

func TestEncodePropertyOp(t *testing.T) {
	op := NewSetPropertyOp(OpID{Counter: 3, Peer: "p1"}, "v1", "_n", "space")
	line, err := EncodeOp(op)
	if err != nil {
		t.Fatal(err)
	}
	want := `["p",3,"v1","_n","space"]`
	if string(line) != want {
		t.Fatalf("got %s, want %s", line, want)
	}
}

func TestRoundTripOps(t *testing.T) {
	ops := []Op{
		NewMoveOp(OpID{Counter: 1, Peer: "peer"}, "root", nil),
		NewMoveOp(OpID{Counter: 2, Peer: "peer"}, "a", strPtr("root")),
		NewSetPropertyOp(OpID{Counter: 3, Peer: "peer"}, "a", "title", "hello"),
		NewSetPropertyOp(OpID{Counter: 4, Peer: "peer"}, "a", "count", float64(42)),
		NewSetPropertyOp(OpID{Counter: 5, Peer: "peer"}, "a", "flag", true),
		NewSetPropertyOp(OpID{Counter: 6, Peer: "peer"}, "a", "nothing", nil),
		NewSetPropertyOp(OpID{Counter: 7, Peer: "peer"}, "a", "tags", []any{"x", "y"}),
	}
	for _, op := range ops {
		line, err := EncodeOp(op)
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := DecodeOp(line, "peer")
		if err != nil {
			t.Fatalf("decode %s: %v", line, err)
		}
		reencoded, err := EncodeOp(decoded)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(line, reencoded) {
			t.Fatalf("round trip changed %s to %s", line, reencoded)
		}
	}
}

func TestAbsentSentinel(t *testing.T) {
	op := NewSetPropertyOp(OpID{Counter: 9, Peer: "p"}, "v", "gone", Absent)
	line, err := EncodeOp(op)
	if err != nil {
		t.Fatal(err)
	}
	want := `["p",9,"v","gone",{}]`
	if string(line) != want {
		t.Fatalf("got %s, want %s", line, want)
	}

	decoded, err := DecodeOp(line, "p")
	if err != nil {
		t.Fatal(err)
	}
	prop, ok := decoded.(SetPropertyOp)
	if !ok {
		t.Fatalf("decoded to %T", decoded)
	}
	if prop.Value != Absent {
		t.Fatalf("expected Absent, got %#v", prop.Value)
	}
}

func TestDecodeAttributesPeer(t *testing.T) {
	op, err := DecodeOp([]byte(`["m",12,"x","y"]`), "other-peer")
	if err != nil {
		t.Fatal(err)
	}
	if op.ID() != (OpID{Counter: 12, Peer: "other-peer"}) {
		t.Fatalf("wrong op id %v", op.ID())
	}
}

func TestDecodeMalformedLines(t *testing.T) {
	lines := []string{
		``,
		`{}`,
		`["m"]`,
		`["m","not-a-counter","x",null]`,
		`["m",1,"x"]`,
		`["p",1,"x","k"]`,
		`["p",1,"x","k",{"a":1}]`,
		`["z",1,"x",null]`,
		`["m",1,"x",42]`,
	}
	for _, line := range lines {
		if _, err := DecodeOp([]byte(line), "p"); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}
