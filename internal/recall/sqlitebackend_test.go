package recall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hujiyo/Paw-sub000/pkg/models"
)

func TestSQLiteBackendPutGetRoundTripsEmbedding(t *testing.T) {
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	rec := models.RecallRecord{
		Hash:          "h1",
		UserText:      "hello",
		AssistantText: "world",
		Embedding:     []float32{0.5, -0.25, 1.0},
		CreatedAt:     time.Now().Truncate(time.Second),
	}
	require.NoError(t, b.Put(context.Background(), rec))

	got, ok, err := b.Get(context.Background(), "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.UserText, got.UserText)
	assert.Equal(t, rec.AssistantText, got.AssistantText)
	assert.Equal(t, rec.Embedding, got.Embedding)
}

func TestSQLiteBackendGetMissingReturnsNotOK(t *testing.T) {
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteBackendPutUpserts(t *testing.T) {
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	base := models.RecallRecord{Hash: "h1", UserText: "v1", AssistantText: "a1", CreatedAt: time.Now()}
	require.NoError(t, b.Put(context.Background(), base))
	base.UserText = "v2"
	require.NoError(t, b.Put(context.Background(), base))

	all, err := b.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2", all[0].UserText)
}

func TestSQLiteBackendSatisfiesEngine(t *testing.T) {
	b, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	provider := &fakeProvider{vectors: map[string][]float32{"U1\nA1": {1, 0}, "Q1": {1, 0}}}
	e := New(b, provider)
	require.NoError(t, e.Save(context.Background(), "U1", "A1"))

	n, err := e.Recall(context.Background(), "Q1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
