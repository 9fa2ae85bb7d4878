package reptree

import (
	"bytes"
	"encoding/json"

	"github.com/weftwork/weft/errors"
)

// Op store and wire encoding. One op per line, a compact JSON array:
//
//	["m", <counter>, "<targetId>", <parentId or null>]
//	["p", <counter>, "<targetId>", "<key>", <value>]
//
// The peer id is deliberately not part of the line — it is carried by the
// containing file name (op store) or the sending connection (wire), so every
// line in one file shares a single peer and the redundancy is elided.

const (
	moveTag     = "m"
	propertyTag = "p"
)

// Absent is the sentinel property value for "set to no value". It survives a
// wire round trip as an empty JSON object, distinct from JSON null.
var Absent = absentValue{}

type absentValue struct{}

func (absentValue) MarshalJSON() ([]byte, error) { return []byte("{}"), nil }

// EncodeOp renders a single op as its JSONL form, without trailing newline.
func EncodeOp(op Op) ([]byte, error) {
	var arr []any
	switch o := op.(type) {
	case MoveOp:
		var parent any
		if o.ParentID != nil {
			parent = *o.ParentID
		}
		arr = []any{moveTag, o.OpID.Counter, o.Target, parent}
	case SetPropertyOp:
		arr = []any{propertyTag, o.OpID.Counter, o.Target, o.Key, o.Value}
	default:
		return nil, errors.Newf("unknown op type %T", op)
	}
	return json.Marshal(arr)
}

// DecodeOp parses one JSONL line into an op, attributing it to peer.
// Returns an error for any malformed line; callers skip such lines.
func DecodeOp(line []byte, peer string) (Op, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(line, &arr); err != nil {
		return nil, errors.Wrap(err, "op line is not a JSON array")
	}
	if len(arr) < 3 {
		return nil, errors.Newf("op line has %d elements, want at least 3", len(arr))
	}

	var tag string
	if err := json.Unmarshal(arr[0], &tag); err != nil {
		return nil, errors.Wrap(err, "op tag is not a string")
	}
	var counter uint64
	if err := json.Unmarshal(arr[1], &counter); err != nil {
		return nil, errors.Wrap(err, "op counter is not an unsigned integer")
	}
	var target string
	if err := json.Unmarshal(arr[2], &target); err != nil {
		return nil, errors.Wrap(err, "op target is not a string")
	}

	id := OpID{Counter: counter, Peer: peer}

	switch tag {
	case moveTag:
		if len(arr) != 4 {
			return nil, errors.Newf("move op line has %d elements, want 4", len(arr))
		}
		var parent *string
		if err := json.Unmarshal(arr[3], &parent); err != nil {
			return nil, errors.Wrap(err, "move op parent is not a string or null")
		}
		return MoveOp{OpID: id, Target: target, ParentID: parent}, nil

	case propertyTag:
		if len(arr) != 5 {
			return nil, errors.Newf("property op line has %d elements, want 5", len(arr))
		}
		var key string
		if err := json.Unmarshal(arr[3], &key); err != nil {
			return nil, errors.Wrap(err, "property op key is not a string")
		}
		value, err := decodeValue(arr[4])
		if err != nil {
			return nil, err
		}
		return SetPropertyOp{OpID: id, Target: target, Key: key, Value: value}, nil
	}
	return nil, errors.Newf("unknown op tag %q", tag)
}

// decodeValue parses a property value, mapping the empty-object sentinel
// back to Absent.
func decodeValue(raw json.RawMessage) (any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("{}")) {
		return Absent, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "property op value is not valid JSON")
	}
	if _, isObject := v.(map[string]any); isObject {
		return nil, errors.New("property op value must be a scalar or array")
	}
	return v, nil
}

// normalizeValue coerces a property value to its JSON-decoded shape, so a
// value read back from the op store compares equal to the one set in memory.
// Numbers become float64, string slices become []any.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case nil, bool, string, float64, absentValue:
		return v
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case []string:
		out := make([]any, len(n))
		for i, s := range n {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

// EncodeOps renders ops as JSONL, one line per op, each newline-terminated.
func EncodeOps(ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	for _, op := range ops {
		line, err := EncodeOp(op)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
