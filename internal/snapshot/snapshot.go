// Package snapshot persists whole-file JSON state. Every write lands in a
// temp file in the target directory and is renamed over the destination, so
// a reader sees either the previous snapshot or the new one.
package snapshot

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pik-sentinel/internal/model"
)

// Version is written into every snapshot envelope.
const Version = "1.0"

// Write marshals v as indented JSON and atomically replaces path. Failures
// wrap model.ErrPersistence.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: marshal %s: %v", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: mkdir %s: %v", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: create temp for %s: %v", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(model.ErrPersistence, "snapshot: write %s: %v", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrapf(model.ErrPersistence, "snapshot: sync %s: %v", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: close %s: %v", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: replace %s: %v", path, err)
	}
	return nil
}

// Read unmarshals the snapshot at path into v. A missing file returns an
// error wrapping model.ErrNotFound; unreadable or corrupt content wraps
// model.ErrPersistence.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(model.ErrNotFound, "snapshot: %s", path)
	}
	if err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(model.ErrPersistence, "snapshot: decode %s: %v", path, err)
	}
	return nil
}

// Stamp is the envelope timestamp for a write at now.
func Stamp(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}
