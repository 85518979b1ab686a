package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

func TestDeriveTitleTruncatesAndFallsBack(t *testing.T) {
	assert.Equal(t, "empty conversation", deriveTitle(""))
	assert.Equal(t, "empty conversation", deriveTitle("   "))
	assert.Equal(t, "hello there", deriveTitle("hello there"))

	long := "this sentence definitely has more than thirty characters in it"
	got := deriveTitle(long)
	assert.Equal(t, string([]rune(long)[:titlePreviewRunes])+"...", got)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	mgr := NewManager(store)

	cs := chunkstore.New()
	cs.Append(models.KindSystem, "sys", nil)
	cs.Append(models.KindUser, "what is the weather in lisbon today please", nil)
	cs.Append(models.KindAssistant, "sunny", nil)

	require.NoError(t, mgr.Save(context.Background(), cs, "/work", "gpt-test", false, 0))
	id := mgr.ActiveID()
	require.NotEmpty(t, id)

	loaded, snap, ok, err := mgr.Load(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/work", snap.WorkspaceDir)
	assert.Equal(t, "gpt-test", snap.Model)
	assert.Equal(t, 3, loaded.Len())
	assert.Contains(t, snap.Title, "what is the weather")
}

func TestLoadRestoreAppendsTerminalClosedMarkerIdempotently(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	mgr := NewManager(store)

	cs := chunkstore.New()
	cs.Append(models.KindUser, "run a build", nil)
	cs.UpsertShell("$ make build\nok", false)

	require.NoError(t, mgr.Save(context.Background(), cs, "/work", "gpt-test", true, 1234))
	id := mgr.ActiveID()

	_, snap1, ok, err := mgr.Load(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	var shellContent string
	for _, c := range snap1.Chunks {
		if c.Kind == models.KindShell {
			shellContent = c.Content
		}
	}
	require.Contains(t, shellContent, terminalClosedMarker)

	// Persist the restored snapshot back (as a real resume flow would) and
	// load again: the marker must not be duplicated.
	require.NoError(t, store.Write(context.Background(), snap1))
	_, snap2, ok, err := mgr.Load(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	var shellContent2 string
	count := 0
	for _, c := range snap2.Chunks {
		if c.Kind == models.KindShell {
			shellContent2 = c.Content
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, strCount(shellContent2, terminalClosedMarker))
}

func strCount(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}

func TestListNewestFirstAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	mgr := NewManager(store)

	cs := chunkstore.New()
	cs.Append(models.KindUser, "first session", nil)
	require.NoError(t, mgr.Save(context.Background(), cs, "/work", "m", false, 0))
	firstID := mgr.ActiveID()

	mgr.New()
	cs2 := chunkstore.New()
	cs2.Append(models.KindUser, "second session", nil)
	require.NoError(t, mgr.Save(context.Background(), cs2, "/work", "m", false, 0))
	secondID := mgr.ActiveID()
	require.NotEqual(t, firstID, secondID)

	list, err := mgr.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, secondID, list[0].SessionID)

	require.NoError(t, mgr.Delete(context.Background(), secondID))
	list2, err := mgr.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list2, 1)
	assert.Equal(t, firstID, list2[0].SessionID)
}

func TestFileStoreRebuildsIndexFromDirectoryOnCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	cs := chunkstore.New()
	cs.Append(models.KindUser, "hello", nil)
	mgr := NewManager(store)
	require.NoError(t, mgr.Save(context.Background(), cs, "/work", "m", false, 0))

	require.NoError(t, writeAtomic(filepath.Join(dir, "index.json"), []byte("{not json")))

	store2, err := NewFileStore(dir)
	require.NoError(t, err)
	list, err := store2.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
