package opstore

import (
	"encoding/json"

	"github.com/weftwork/weft/errors"
)

// ErrInvalidSpace marks a directory that does not hold a usable space:
// space.json missing or malformed.
var ErrInvalidSpace = errors.New("invalid space directory")

// ErrSpaceIDMismatch marks a space whose replayed tree disagrees with the
// id declared in space.json. The space is refused rather than half-opened.
var ErrSpaceIDMismatch = errors.New("space id mismatch")

func unmarshalPointer(data []byte, ptr *SpacePointer) error {
	if err := json.Unmarshal(data, ptr); err != nil {
		return errors.Wrapf(ErrInvalidSpace, "malformed %s: %v", SpacePointerFile, err)
	}
	if ptr.ID == "" {
		return errors.Wrapf(ErrInvalidSpace, "%s has no id", SpacePointerFile)
	}
	return nil
}
