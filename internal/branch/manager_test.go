package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hujiyo/Paw-sub000/internal/chunkstore"
	"github.com/hujiyo/Paw-sub000/internal/tools"
	"github.com/hujiyo/Paw-sub000/pkg/models"
)

func newTestManager(t *testing.T, parent *chunkstore.Store) *Manager {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&tools.Entry{
		Name:        "read_file",
		Description: "read a file",
		Schema:      mustSchema(`{"type":"object","properties":{}}`),
		Enabled:     true,
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			return "ok", nil
		},
	}))
	return NewManager(parent, registry, nil)
}

func seedChunks(n int) *chunkstore.Store {
	store := chunkstore.New()
	store.Append(models.KindSystem, "system prompt", nil)
	for i := 0; i < n; i++ {
		store.Append(models.KindUser, fmt.Sprintf("turn %d", i), nil)
	}
	return store
}

func TestCreateFailsWhenAlreadyActive(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)

	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), TriggerManual, "system", "skills")
	assert.ErrorIs(t, err, ErrBranchActive)
}

func TestStagedOpsNotAppliedUntilCommit(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)
	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	before := parent.Len()
	require.NoError(t, m.stage(EditOp{Kind: "remove", Indices: []int{1}}))
	assert.Equal(t, before, parent.Len(), "staging must not mutate the parent store")

	preview, err := m.preview()
	require.NoError(t, err)
	assert.Contains(t, preview, "remove")
}

func TestCommitAppliesStagedOpsAtomically(t *testing.T) {
	// 20 chunks after the system chunk (indices 1..20 in the user-facing
	// sense); compress chunks 2 and 15 into one summary, then commit and
	// exit.
	parent := seedChunks(20)
	m := newTestManager(t, parent)
	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	originalLen := parent.Len()
	require.NoError(t, m.stage(EditOp{
		Kind:    "compress",
		Indices: []int{2, 15},
		Content: "summary of turns 2-15",
	}))

	require.NoError(t, m.commit())

	chunks := parent.Chunks()
	assert.Equal(t, originalLen-1, len(chunks), "compressing two indices into one removes exactly one chunk")
	assert.Equal(t, "summary of turns 2-15", chunks[2].Content)

	require.NoError(t, m.exit(TriggerManual))
	assert.Nil(t, m.ActiveBranch())

	history := m.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Committed)
}

func TestDoubleCommitRejected(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)
	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	require.NoError(t, m.stage(EditOp{Kind: "remove", Indices: []int{1}}))
	require.NoError(t, m.commit())

	err = m.commit()
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestCommitWithEmptyPendingListFails(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)
	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	err = m.commit()
	assert.ErrorIs(t, err, ErrNoPendingOps)
}

func TestExitRefusesWhilePending(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)
	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	require.NoError(t, m.stage(EditOp{Kind: "remove", Indices: []int{1}}))
	err = m.exit(TriggerManual)
	assert.ErrorIs(t, err, ErrPendingOps)
	assert.NotNil(t, m.ActiveBranch())
}

func TestRollbackClearsPending(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)
	_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
	require.NoError(t, err)

	require.NoError(t, m.stage(EditOp{Kind: "remove", Indices: []int{1}}))
	require.NoError(t, m.rollback())
	assert.Empty(t, m.ActiveBranch().Pending)

	require.NoError(t, m.exit(TriggerManual))
}

func TestHistoryIsBounded(t *testing.T) {
	parent := seedChunks(5)
	m := newTestManager(t, parent)
	m.HistoryCap = 2

	for i := 0; i < 5; i++ {
		_, err := m.Create(context.Background(), TriggerManual, "system", "skills")
		require.NoError(t, err)
		require.NoError(t, m.exit(TriggerManual))
	}

	assert.Len(t, m.History(), 2)
}

func TestShouldTrigger(t *testing.T) {
	trigger, ok := ShouldTrigger(0.8, 5)
	assert.True(t, ok)
	assert.Equal(t, TriggerTokenUtilization, trigger)

	trigger, ok = ShouldTrigger(0.1, 25)
	assert.True(t, ok)
	assert.Equal(t, TriggerUserTurnCount, trigger)

	_, ok = ShouldTrigger(0.1, 3)
	assert.False(t, ok)
}
