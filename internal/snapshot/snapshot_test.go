package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pik-sentinel/internal/model"
)

type doc struct {
	Version string   `json:"version"`
	Items   []string `json:"items"`
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, Write(path, doc{Version: Version, Items: []string{"a", "b"}}))
	require.NoError(t, Write(path, doc{Version: Version, Items: []string{"c"}}))

	var got doc
	require.NoError(t, Read(path, &got))
	assert.Equal(t, []string{"c"}, got.Items)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadMissing(t *testing.T) {
	var got doc
	err := Read(filepath.Join(t.TempDir(), "nope.json"), &got)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	var got doc
	err := Read(path, &got)
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrPersistence))
}

func TestWriteUnwritableDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	err := Write(filepath.Join(blocker, "state.json"), doc{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrPersistence))
}
