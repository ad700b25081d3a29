// Package atomicio implements the write-to-temp, fsync, read-back, rename,
// re-parse protocol used for every sidecar state file (session budgets,
// provider quota snapshots, rate limits, tier-resolver overrides, router
// state). Modeled on the teacher's binary-swap update in
// internal/deploy/update.go, generalized from executables to JSON blobs.
package atomicio

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomwork/loomwork/internal/errs"
)

// WriteJSON atomically writes v as JSON to path.
//
// Steps: marshal, write to "<path>.tmp.<random>", fsync, read back and
// validate the temp file parses, rename over path, then re-parse the final
// path as a last line of defense. A failed read-back removes the temp file
// and returns a State/Persistence error; the original file at path is left
// untouched.
func WriteJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal sidecar state", err)
	}

	tmpPath, err := tempPath(path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindState, "open temp sidecar file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindState, "write temp sidecar file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindState, "fsync temp sidecar file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindState, "close temp sidecar file", err)
	}

	// Read-back validation before rename.
	readBack, err := os.ReadFile(tmpPath)
	if err != nil || !json.Valid(readBack) {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindState, "read-back validation failed", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindState, "rename sidecar file into place", err)
	}

	// Re-parse the final path as a last line of defense.
	final, err := os.ReadFile(path)
	if err != nil || !json.Valid(final) {
		return errs.Wrap(errs.KindState, "post-rename validation failed", err)
	}
	return nil
}

// ReadJSON reads and unmarshals the sidecar file at path into v.
// Returns os.ErrNotExist (wrapped) if the file does not exist yet.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.Wrap(errs.KindState, "parse sidecar file", err)
	}
	return nil
}

func tempPath(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errs.Wrap(errs.KindState, "create sidecar directory", err)
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.KindInternal, "generate temp suffix", err)
	}
	return fmt.Sprintf("%s.tmp.%s", path, hex.EncodeToString(buf)), nil
}
