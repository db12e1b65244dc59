package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSource(t *testing.T) {
	source := NewMapSource(map[string]string{"files": "https://cdn.example.com/files/entry.js"})

	addr, ok := source.Get("files")
	assert.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/files/entry.js", addr)

	_, ok = source.Get("reports")
	assert.False(t, ok)
	assert.Equal(t, 1, source.Len())
}

func TestMapSource_CopiesInput(t *testing.T) {
	values := map[string]string{"files": "a"}
	source := NewMapSource(values)

	values["files"] = "mutated"

	addr, _ := source.Get("files")
	assert.Equal(t, "a", addr)
}

func TestFileSource_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"files": "https://dev.example.com/files/entry.js"}`), 0644))

	source, err := NewFileSource(path, testLogger())
	require.NoError(t, err)
	defer source.Close()

	addr, ok := source.Get("files")
	assert.True(t, ok)
	assert.Equal(t, "https://dev.example.com/files/entry.js", addr)
}

func TestFileSource_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("files: https://dev.example.com/files/entry.js\n"), 0644))

	source, err := NewFileSource(path, testLogger())
	require.NoError(t, err)
	defer source.Close()

	addr, ok := source.Get("files")
	assert.True(t, ok)
	assert.Equal(t, "https://dev.example.com/files/entry.js", addr)
}

func TestFileSource_MissingFileHasNoOpinion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	source, err := NewFileSource(path, testLogger())
	require.NoError(t, err)
	defer source.Close()

	_, ok := source.Get("files")
	assert.False(t, ok)
}

func TestFileSource_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"files": "v1"}`), 0644))

	source, err := NewFileSource(path, testLogger())
	require.NoError(t, err)
	defer source.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"files": "v2"}`), 0644))
	require.NoError(t, source.Reload())

	addr, ok := source.Get("files")
	assert.True(t, ok)
	assert.Equal(t, "v2", addr)
}

func TestRedisSource(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	source := NewRedisSource(client, "tessera:overrides:session")

	require.NoError(t, source.Set(ctx, "files", "https://session.example.com/files/entry.js"))

	snapshot, err := source.Snapshot(ctx)
	require.NoError(t, err)

	addr, ok := snapshot.Get("files")
	assert.True(t, ok)
	assert.Equal(t, "https://session.example.com/files/entry.js", addr)

	// Snapshot is detached from the live hash.
	require.NoError(t, source.Set(ctx, "files", "changed"))
	addr, _ = snapshot.Get("files")
	assert.Equal(t, "https://session.example.com/files/entry.js", addr)

	require.NoError(t, source.Delete(ctx, "files"))
	snapshot, err = source.Snapshot(ctx)
	require.NoError(t, err)
	_, ok = snapshot.Get("files")
	assert.False(t, ok)
}
