package opstore

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/weftwork/weft/errors"
	"github.com/weftwork/weft/reptree"
)

// maxOpLineSize bounds a single JSONL line. Property values are small by
// contract; a megabyte is far beyond anything a well-formed op produces.
const maxOpLineSize = 1 << 20

// LoadTreeOps reads the full op history of one tree from the space
// directory: every date directory in ascending order, every peer file within
// it. Malformed lines are skipped with a warning; a missing tree directory
// yields an empty op list.
func LoadTreeOps(spacePath, treeID string, log *zap.SugaredLogger) ([]reptree.Op, error) {
	treeDir := TreeDir(spacePath, treeID)
	entries, err := os.ReadDir(treeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list op store for tree %s", treeID)
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() && dayPattern.MatchString(e.Name()) {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)

	var ops []reptree.Op
	for _, day := range days {
		dayDir := filepath.Join(treeDir, day)
		files, err := os.ReadDir(dayDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list op day %s", day)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), opsFileExt) {
				continue
			}
			peer := strings.TrimSuffix(f.Name(), opsFileExt)
			fileOps, err := ReadOpsFile(filepath.Join(dayDir, f.Name()), peer, log)
			if err != nil {
				return nil, err
			}
			ops = append(ops, fileOps...)
		}
	}
	return ops, nil
}

// ReadOpsFile parses one peer file. The peer id comes from the caller (the
// file name), not the lines. Lines that fail to parse are logged and
// skipped — a torn final line from a concurrent append must not poison the
// rest of the history.
func ReadOpsFile(path, peer string, log *zap.SugaredLogger) ([]reptree.Op, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open op file %s", path)
	}
	defer f.Close()

	var ops []reptree.Op
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOpLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		op, err := reptree.DecodeOp([]byte(line), peer)
		if err != nil {
			if log != nil {
				log.Warnw("Skipping malformed op line",
					"file", path,
					"line", lineNo,
					"error", err.Error(),
				)
			}
			continue
		}
		ops = append(ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read op file %s", path)
	}
	return ops, nil
}

// LoadSpacePointer reads and validates space.json.
func LoadSpacePointer(spacePath string) (SpacePointer, error) {
	var ptr SpacePointer
	data, err := os.ReadFile(filepath.Join(spacePath, SpacePointerFile))
	if err != nil {
		return ptr, errors.Wrapf(ErrInvalidSpace, "no readable %s in %s", SpacePointerFile, spacePath)
	}
	if err := unmarshalPointer(data, &ptr); err != nil {
		return ptr, err
	}
	return ptr, nil
}
