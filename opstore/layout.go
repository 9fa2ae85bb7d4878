// Package opstore persists replicated-tree operations as append-only JSONL
// files, one file per (tree, day, peer):
//
//	<space>/
//	  space.json                          {"id": "<spaceId>"}
//	  secrets                             base64(iv || AES-GCM ciphertext)
//	  ops/<tt>/<rest>/<YYYY-MM-DD>/<peerId>.jsonl
//
// where <tt> is the first two characters of the tree id and <rest> the
// remainder. Each peer appends only to its own files; other peers' files are
// read-only, which is what lets several processes share one space directory
// without locking.
package opstore

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// SpacePointerFile holds the space id at the directory root.
	SpacePointerFile = "space.json"

	// SecretsFile holds the encrypted secrets blob at the directory root.
	SecretsFile = "secrets"

	opsDirName = "ops"
	opsFileExt = ".jsonl"
)

// SpacePointer is the content of space.json.
type SpacePointer struct {
	ID string `json:"id"`
}

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Day formats a timestamp as an op-directory day name.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// OpsDir returns the root of the op store.
func OpsDir(spacePath string) string {
	return filepath.Join(spacePath, opsDirName)
}

// TreeDir returns the directory holding all ops of one tree.
func TreeDir(spacePath, treeID string) string {
	if len(treeID) < 3 {
		// Degenerate ids go unsplit; real tree ids are GUIDs.
		return filepath.Join(OpsDir(spacePath), treeID)
	}
	return filepath.Join(OpsDir(spacePath), treeID[:2], treeID[2:])
}

// DayDir returns the directory for one (tree, day).
func DayDir(spacePath, treeID, day string) string {
	return filepath.Join(TreeDir(spacePath, treeID), day)
}

// PeerFile returns the append target for one (tree, day, peer).
func PeerFile(spacePath, treeID, day, peer string) string {
	return filepath.Join(DayDir(spacePath, treeID, day), peer+opsFileExt)
}

// ParseOpsPath extracts (treeID, peer) from an op file path under spacePath.
// Returns ok=false for anything that is not a well-formed peer file path.
func ParseOpsPath(spacePath, path string) (treeID, peer string, ok bool) {
	rel, err := filepath.Rel(OpsDir(spacePath), path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	// <tt>/<rest>/<day>/<peer>.jsonl
	if len(parts) != 4 || strings.HasPrefix(parts[0], "..") {
		return "", "", false
	}
	if !dayPattern.MatchString(parts[2]) {
		return "", "", false
	}
	base := parts[3]
	if !strings.HasSuffix(base, opsFileExt) {
		return "", "", false
	}
	peer = strings.TrimSuffix(base, opsFileExt)
	if peer == "" {
		return "", "", false
	}
	return parts[0] + parts[1], peer, true
}
