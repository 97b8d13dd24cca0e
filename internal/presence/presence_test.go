package presence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-relay-go/pkg/util/merr"
)

func TestFileMarker(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileMarker(dir)
	require.NoError(t, err)

	assert.False(t, m.Held("alice"))
	require.NoError(t, m.Acquire("alice"))
	assert.True(t, m.Held("alice"))
	assert.FileExists(t, filepath.Join(dir, ".alice"))

	require.NoError(t, m.Release("alice"))
	assert.False(t, m.Held("alice"))
	assert.NoFileExists(t, filepath.Join(dir, ".alice"))

	// 未持有时 Release 是无操作。
	assert.NoError(t, m.Release("alice"))
}

func TestFileMarkerCountsDuplicates(t *testing.T) {
	m, err := NewFileMarker(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Acquire("bob"))
	require.NoError(t, m.Acquire("bob"))
	require.NoError(t, m.Release("bob"))
	assert.True(t, m.Held("bob"))
	require.NoError(t, m.Release("bob"))
	assert.False(t, m.Held("bob"))
}

func TestFileMarkerEscapesNames(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileMarker(dir)
	require.NoError(t, err)

	for _, name := range []string{"../evil", ".", "..", "a/b"} {
		path := m.Path(name)
		assert.Equal(t, dir, filepath.Dir(path), name)
		require.NoError(t, m.Acquire(name))
		assert.True(t, m.Held(name))
		require.NoError(t, m.Release(name))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileMarkerValidation(t *testing.T) {
	_, err := NewFileMarker("")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)

	m, err := NewFileMarker(t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, m.Acquire(""), merr.ErrParameterMissing)
}

func TestNop(t *testing.T) {
	var m Marker = Nop{}
	assert.NoError(t, m.Acquire("x"))
	assert.False(t, m.Held("x"))
	assert.NoError(t, m.Release("x"))
}
