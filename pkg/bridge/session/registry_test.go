package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(t.TempDir(), nil, nil)
	require.NoError(t, err)
	return reg
}

func TestRegistry_Create(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Create("study-1", CreateOptions{Name: "demo", EffectMeasure: "OR"})
	require.NoError(t, err)

	assert.Equal(t, "study-1", sess.ID)
	assert.Equal(t, filepath.Join(reg.Root(), "study-1"), sess.Path)

	for _, dir := range []string{InputDir, ProcessingDir, ResultsDir, ScratchDir} {
		info, err := os.Stat(sess.Dir(dir))
		require.NoError(t, err, "missing %s", dir)
		assert.True(t, info.IsDir())
	}

	data, err := os.ReadFile(filepath.Join(sess.Path, MetadataFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "demo"`)
	assert.Contains(t, string(data), `"effect_measure": "OR"`)
}

func TestRegistry_Create_GeneratesID(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Create("", CreateOptions{})
	require.NoError(t, err)

	assert.Len(t, sess.ID, 16)
	assert.Equal(t, filepath.Join(reg.Root(), sess.ID), sess.Path)
}

func TestRegistry_Create_Idempotent(t *testing.T) {
	reg := newTestRegistry(t)

	first, err := reg.Create("same", CreateOptions{Name: "original"})
	require.NoError(t, err)

	second, err := reg.Create("same", CreateOptions{Name: "changed"})
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, "original", second.Metadata.Name)

	entries, err := os.ReadDir(reg.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRegistry_Resolve(t *testing.T) {
	reg := newTestRegistry(t)

	created, err := reg.Create("known", CreateOptions{Name: "demo"})
	require.NoError(t, err)

	resolved, err := reg.Resolve("known")
	require.NoError(t, err)
	assert.Equal(t, created.Path, resolved.Path)
	assert.Equal(t, "demo", resolved.Metadata.Name)
}

func TestRegistry_Resolve_Unknown(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Resolve("missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnknownSession))
}

func TestRegistry_Resolve_AfterRestart(t *testing.T) {
	root := t.TempDir()

	reg, err := NewRegistry(root, nil, nil)
	require.NoError(t, err)
	_, err = reg.Create("persisted", CreateOptions{Name: "survives"})
	require.NoError(t, err)

	// A fresh registry over the same root sees the session on disk.
	fresh, err := NewRegistry(root, nil, nil)
	require.NoError(t, err)
	sess, err := fresh.Resolve("persisted")
	require.NoError(t, err)
	assert.Equal(t, "survives", sess.Metadata.Name)
}

func TestRegistry_PathTraversal(t *testing.T) {
	reg := newTestRegistry(t)

	ids := []string{
		"..",
		"../escape",
		"a/b",
		"foo/../../bar",
		"/etc/passwd",
	}

	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			_, err := reg.Create(id, CreateOptions{})
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePathViolation),
				"expected path violation, got %v", err)

			_, err = reg.Resolve(id)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePathViolation))
		})
	}
}

func TestRegistry_Resolve_EmptyID(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Resolve("")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestRegistry_ConcurrentCreate_SameID(t *testing.T) {
	reg := newTestRegistry(t)

	const workers = 16
	paths := make([]string, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := reg.Create("contested", CreateOptions{})
			assert.NoError(t, err)
			paths[i] = sess.Path
		}(i)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}

	entries, err := os.ReadDir(reg.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRegistry_List(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("one", CreateOptions{Name: "first"})
	require.NoError(t, err)
	_, err = reg.Create("two", CreateOptions{Name: "second"})
	require.NoError(t, err)

	metas, err := reg.List()
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestRegistry_PruneScratch(t *testing.T) {
	reg := newTestRegistry(t)

	one, err := reg.Create("one", CreateOptions{})
	require.NoError(t, err)
	two, err := reg.Create("two", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(one.ScratchPath(), "args-stale.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(
		filepath.Join(two.ScratchPath(), "args-stale.json"), []byte("{}"), 0644))
	// Input files are untouched by pruning.
	require.NoError(t, os.WriteFile(
		filepath.Join(one.Dir(InputDir), "studies.csv"), []byte("a,b\n"), 0644))

	removed, err := reg.PruneScratch()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(one.ScratchPath())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, one.HasData())
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, 16)
		assert.False(t, strings.Contains(id, "-"))
		assert.False(t, seen[id], "duplicate id: %s", id)
		seen[id] = true
	}
}

func TestSession_DataAndResults(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Create("flags", CreateOptions{})
	require.NoError(t, err)

	assert.False(t, sess.HasData())
	assert.False(t, sess.HasResults())
	assert.Empty(t, sess.ResultFiles())

	require.NoError(t, os.WriteFile(
		filepath.Join(sess.Dir(InputDir), "studies.csv"), []byte("a,b\n"), 0644))
	require.NoError(t, os.WriteFile(
		filepath.Join(sess.Dir(ResultsDir), "forest.png"), []byte{0x89}, 0644))

	assert.True(t, sess.HasData())
	assert.True(t, sess.HasResults())
	assert.Equal(t, []string{"forest.png"}, sess.ResultFiles())
}
