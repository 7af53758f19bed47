package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	return store
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)

	meta := Metadata{
		SessionID:     "abc123",
		Name:          "demo",
		StudyType:     "clinical_trial",
		EffectMeasure: "OR",
		Created:       time.Now().UTC(),
		Status:        StatusInitialized,
	}
	require.NoError(t, store.Upsert(meta))

	rec, err := store.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, "demo", rec.Name)
	assert.Equal(t, "OR", rec.EffectMeasure)
	assert.Equal(t, StatusInitialized, rec.Status)
}

func TestStore_Upsert_Replaces(t *testing.T) {
	store := newTestStore(t)

	meta := Metadata{SessionID: "abc123", Name: "before", Created: time.Now().UTC()}
	require.NoError(t, store.Upsert(meta))

	meta.Name = "after"
	require.NoError(t, store.Upsert(meta))

	rec, err := store.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, "after", rec.Name)

	recs, err := store.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestStore_List_NewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC()
	require.NoError(t, store.Upsert(Metadata{SessionID: "old", Created: base.Add(-time.Hour)}))
	require.NoError(t, store.Upsert(Metadata{SessionID: "new", Created: base}))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "new", metas[0].SessionID)
	assert.Equal(t, "old", metas[1].SessionID)
}

func TestStore_RecordInvocation(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Upsert(Metadata{SessionID: "abc123", Created: time.Now().UTC()}))
	require.NoError(t, store.RecordInvocation("abc123", "run_analysis"))

	rec, err := store.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, "run_analysis", rec.LastOperation)
	assert.False(t, rec.LastInvoked.IsZero())
}

func TestRegistry_WithStore(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t)
	reg, err := NewRegistry(root, store, nil)
	require.NoError(t, err)

	_, err = reg.Create("indexed", CreateOptions{Name: "demo"})
	require.NoError(t, err)

	rec, err := store.Get("indexed")
	require.NoError(t, err)
	assert.Equal(t, "demo", rec.Name)

	reg.RecordInvocation("indexed", "upload_data")
	rec, err = store.Get("indexed")
	require.NoError(t, err)
	assert.Equal(t, "upload_data", rec.LastOperation)
}
