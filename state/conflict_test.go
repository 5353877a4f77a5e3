package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

func TestStaleWriteQueuesConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	newer := time.Unix(100, 0)
	older := time.Unix(50, 0)

	a := testState("wf-1", newer)
	a.Status = "state-a"
	_, err := store.Write(ctx, "wf-1", a, "agent-a", "write A")
	require.NoError(t, err)

	b := testState("wf-1", older)
	b.Status = "state-b"
	_, err = store.Write(ctx, "wf-1", b, "agent-b", "write B")
	require.NoError(t, err, "a stale write is still accepted")

	// Exactly one conflict, referencing A as old and B as new.
	conflicts := store.PendingConflicts("wf-1")
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, types.ConflictPending, c.Status)
	require.Len(t, c.Changes, 1)
	assert.Equal(t, "state-a", c.Changes[0].OldState.Status)
	assert.Equal(t, "state-b", c.Changes[0].NewState.Status)
	assert.Equal(t, "agent-b", c.Changes[0].Author)

	// The stale write still became the head.
	got, err := store.Read(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "state-b", got.Status)

	m := store.Metrics()
	assert.Equal(t, int64(1), m.ConflictsDetected)
}

func TestFreshWriteDoesNotConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "wf-1", testState("wf-1", time.Unix(50, 0)), "agent-a", "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "wf-1", testState("wf-1", time.Unix(100, 0)), "agent-b", "")
	require.NoError(t, err)

	assert.Empty(t, store.PendingConflicts("wf-1"))
}

func TestResolveLastWriteWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testState("wf-1", time.Unix(100, 0))
	a.Status = "state-a"
	_, err := store.Write(ctx, "wf-1", a, "agent-a", "")
	require.NoError(t, err)

	b := testState("wf-1", time.Unix(50, 0))
	b.Status = "state-b"
	_, err = store.Write(ctx, "wf-1", b, "agent-b", "")
	require.NoError(t, err)

	conflicts := store.PendingConflicts("wf-1")
	require.Len(t, conflicts, 1)

	resolved, err := store.ResolveConflict(ctx, conflicts[0].ID)
	require.NoError(t, err)

	// The state with the larger updatedAt wins.
	assert.Equal(t, "state-a", resolved.Status)

	// Resolution produced a new head authored by the state manager and
	// cleared the queue.
	history, err := store.History(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "state-manager", history[0].Author)
	assert.Equal(t, "state-a", history[0].State.Status)
	assert.Empty(t, store.PendingConflicts("wf-1"))

	m := store.Metrics()
	assert.Equal(t, int64(1), m.ConflictsResolved)
}

func TestResolveMerge(t *testing.T) {
	store := newTestStore(t, WithResolutionStrategy(types.ResolveMerge))
	ctx := context.Background()

	a := testState("wf-1", time.Unix(100, 0))
	a.Tasks["t-a"] = &types.Task{ID: "t-a", Type: "review"}
	a.Context["keyA"] = "fromA"
	_, err := store.Write(ctx, "wf-1", a, "agent-a", "")
	require.NoError(t, err)

	b := testState("wf-1", time.Unix(50, 0))
	b.Tasks["t-b"] = &types.Task{ID: "t-b", Type: "sync"}
	b.Context["keyB"] = "fromB"
	_, err = store.Write(ctx, "wf-1", b, "agent-b", "")
	require.NoError(t, err)

	conflicts := store.PendingConflicts("wf-1")
	require.Len(t, conflicts, 1)

	resolved, err := store.ResolveConflict(ctx, conflicts[0].ID)
	require.NoError(t, err)

	// Tasks and context merge key-by-key over the base.
	assert.Contains(t, resolved.Tasks, "t-a")
	assert.Contains(t, resolved.Tasks, "t-b")
	assert.Contains(t, resolved.Tasks, "t-1")
	assert.Equal(t, "fromA", resolved.Context["keyA"])
	assert.Equal(t, "fromB", resolved.Context["keyB"])
}

func TestResolveManualIsUnsupported(t *testing.T) {
	store := newTestStore(t, WithResolutionStrategy(types.ResolveManual))
	ctx := context.Background()

	_, err := store.Write(ctx, "wf-1", testState("wf-1", time.Unix(100, 0)), "agent-a", "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "wf-1", testState("wf-1", time.Unix(50, 0)), "agent-b", "")
	require.NoError(t, err)

	conflicts := store.PendingConflicts("wf-1")
	require.Len(t, conflicts, 1)

	_, err = store.ResolveConflict(ctx, conflicts[0].ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedOperation, types.GetErrorCode(err))

	// Manual conflicts stay queued for a human.
	assert.Len(t, store.PendingConflicts("wf-1"), 1)
}

func TestRejectedStaleWriteQueuesNoConflict(t *testing.T) {
	kv := persistence.NewMemoryKVStore()
	defer kv.Close()
	ctx := context.Background()

	flaky := &failingKV{KVStore: kv}
	store := NewVersionedStore(flaky)

	_, err := store.Write(ctx, "wf-1", testState("wf-1", time.Unix(100, 0)), "agent-a", "")
	require.NoError(t, err)

	// The second write is stale and its active-state put fails. The write
	// is rejected, so no conflict may reference it.
	flaky.failKey = "workflow:wf-1:state"
	_, err = store.Write(ctx, "wf-1", testState("wf-1", time.Unix(50, 0)), "agent-b", "")
	require.Error(t, err)

	assert.Empty(t, store.PendingConflicts("wf-1"))
	assert.Zero(t, store.Metrics().ConflictsDetected)
}

func TestPendingConflictsSurviveRestart(t *testing.T) {
	kv := persistence.NewMemoryKVStore()
	defer kv.Close()
	ctx := context.Background()

	store := NewVersionedStore(kv)
	_, err := store.Write(ctx, "wf-1", testState("wf-1", time.Unix(100, 0)), "agent-a", "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "wf-1", testState("wf-1", time.Unix(50, 0)), "agent-b", "")
	require.NoError(t, err)

	queued := store.PendingConflicts("wf-1")
	require.Len(t, queued, 1)

	// A new store over the same KV rebuilds the queue and can resolve the
	// conflict recorded before the restart.
	reopened := NewVersionedStore(kv)
	restored := reopened.PendingConflicts("wf-1")
	require.Len(t, restored, 1)
	assert.Equal(t, queued[0].ID, restored[0].ID)

	_, err = reopened.ResolveConflict(ctx, queued[0].ID)
	require.NoError(t, err)
	assert.Empty(t, reopened.PendingConflicts("wf-1"))

	// Resolution marked the persisted record, so a further restart
	// restores nothing.
	third := NewVersionedStore(kv)
	assert.Empty(t, third.PendingConflicts(""))
}

func TestResolveUnknownConflict(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ResolveConflict(context.Background(), "no-such-conflict")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestResolutionDoesNotCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "wf-1", testState("wf-1", time.Unix(100, 0)), "agent-a", "")
	require.NoError(t, err)
	_, err = store.Write(ctx, "wf-1", testState("wf-1", time.Unix(50, 0)), "agent-b", "")
	require.NoError(t, err)

	conflicts := store.PendingConflicts("wf-1")
	require.Len(t, conflicts, 1)

	// Writing the resolved state bypasses detection, so resolution never
	// queues a follow-up conflict.
	_, err = store.ResolveConflict(ctx, conflicts[0].ID)
	require.NoError(t, err)
	assert.Empty(t, store.PendingConflicts("wf-1"))
}
