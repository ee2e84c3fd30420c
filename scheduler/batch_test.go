package scheduler

import (
	"testing"
	"time"

	"github.com/goliatone/go-entities"
	"github.com/stretchr/testify/require"
)

func opMsg(parent string) entities.RequestMessage {
	return entities.RequestMessage{ID: entities.NewRequestID(), ParentInstanceID: parent, Operation: "noop"}
}

func lockMsg(parent string, lockSet []entities.EntityId, position int) entities.RequestMessage {
	return entities.RequestMessage{ID: entities.NewRequestID(), ParentInstanceID: parent, LockSet: lockSet, Position: position}
}

func TestBuildBatch_UnlockedOpsAreFreelyEligible(t *testing.T) {
	queue := []entities.RequestMessage{opMsg("p1"), opMsg("p2"), opMsg("p1")}
	batch := BuildBatch(queue, "", 0, time.Now())
	require.Len(t, batch.Items, 3)
	require.Nil(t, batch.LockFinal)
	require.Empty(t, batch.RemainingQueue(queue))
}

func TestBuildBatch_ForeignOpsSkippedWhileLocked(t *testing.T) {
	queue := []entities.RequestMessage{opMsg("other"), opMsg("holder"), opMsg("other")}
	batch := BuildBatch(queue, "holder", 0, time.Now())
	require.Len(t, batch.Items, 1)
	require.Equal(t, "holder", batch.Items[0].ParentInstanceID)

	remaining := batch.RemainingQueue(queue)
	require.Len(t, remaining, 2)
	require.Equal(t, "other", remaining[0].ParentInstanceID)
	require.Equal(t, "other", remaining[1].ParentInstanceID)
}

func TestBuildBatch_BlockingLockHaltsEntireScan(t *testing.T) {
	lockSet := entities.SortLockSet([]entities.EntityId{entities.NewEntityId("Counter", "a")})
	queue := []entities.RequestMessage{
		opMsg("holder"),
		lockMsg("someoneElse", lockSet, 0),
		opMsg("holder"), // must not be reached; blocking lock halts the whole scan
	}
	batch := BuildBatch(queue, "holder", 0, time.Now())
	require.Len(t, batch.Items, 1)
	require.Nil(t, batch.LockFinal)
	remaining := batch.RemainingQueue(queue)
	require.Len(t, remaining, 2)
}

func TestBuildBatch_FreshLockTerminatesBatch(t *testing.T) {
	lockSet := entities.SortLockSet([]entities.EntityId{entities.NewEntityId("Counter", "a")})
	queue := []entities.RequestMessage{opMsg("p1"), lockMsg("p1", lockSet, 0), opMsg("p1")}
	batch := BuildBatch(queue, "", 0, time.Now())
	require.Len(t, batch.Items, 1)
	require.NotNil(t, batch.LockFinal)
	remaining := batch.RemainingQueue(queue)
	require.Len(t, remaining, 1)
	require.Equal(t, "noop", remaining[0].Operation)
}

func TestBuildBatch_SizeLimitNeverSplitsLockFromPrecedingOps(t *testing.T) {
	lockSet := entities.SortLockSet([]entities.EntityId{entities.NewEntityId("Counter", "a")})
	queue := []entities.RequestMessage{opMsg("p1"), opMsg("p1"), lockMsg("p1", lockSet, 0)}
	batch := BuildBatch(queue, "", 2, time.Now())
	require.Len(t, batch.Items, 2)
	require.Nil(t, batch.LockFinal, "lock request deferred to the next iteration once the size limit is hit")
}

func TestBuildBatch_UnlockClearsLockedByMidBatch(t *testing.T) {
	unlock := entities.RequestMessage{
		ID: entities.NewRequestID(), ParentInstanceID: "holder",
		Operation: entities.OperationUnlock, IsSignal: true,
	}
	queue := []entities.RequestMessage{unlock, opMsg("other")}
	batch := BuildBatch(queue, "holder", 0, time.Now())
	require.Len(t, batch.Items, 2, "unlock plus the now-eligible foreign op")
	require.True(t, batch.Items[0].IsUnlock())
	require.Equal(t, "other", batch.Items[1].ParentInstanceID)
}

func TestBuildBatch_NotYetDueMessageStaysQueued(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)

	due := opMsg("p1")
	notDue := opMsg("p1")
	notDue.ScheduledAt = &future

	queue := []entities.RequestMessage{notDue, due}
	batch := BuildBatch(queue, "", 0, now)
	require.Len(t, batch.Items, 1, "the not-yet-due message must not be admitted")
	require.Equal(t, due.ID, batch.Items[0].ID)

	remaining := batch.RemainingQueue(queue)
	require.Len(t, remaining, 1)
	require.Equal(t, notDue.ID, remaining[0].ID, "the not-yet-due message stays queued")
}

func TestBuildBatch_ScheduledAtInThePastIsDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	msg := opMsg("p1")
	msg.ScheduledAt = &past

	batch := BuildBatch([]entities.RequestMessage{msg}, "", 0, now)
	require.Len(t, batch.Items, 1)
}

func TestApplyLock_ProtocolViolation_WrongPosition(t *testing.T) {
	self := entities.NewEntityId("Counter", "b")
	lockSet := entities.SortLockSet([]entities.EntityId{entities.NewEntityId("Counter", "a"), entities.NewEntityId("Counter", "b")})
	req := lockMsg("p1", lockSet, 0) // position 0 addresses "a", not self ("b")
	outcome := ApplyLock(self, &req, "")
	require.Error(t, outcome.ProtocolError)
	require.Nil(t, outcome.Forward)
	require.Nil(t, outcome.Completion)
}

func TestApplyLock_SingleEntityCompletesImmediately(t *testing.T) {
	self := entities.NewEntityId("Counter", "a")
	lockSet := entities.SortLockSet([]entities.EntityId{self})
	req := lockMsg("orchestrator", lockSet, 0)
	outcome := ApplyLock(self, &req, "")
	require.NoError(t, outcome.ProtocolError)
	require.Nil(t, outcome.Forward)
	require.NotNil(t, outcome.Completion)
	require.Equal(t, "orchestrator", outcome.CompletionTo)
	require.Equal(t, "orchestrator", outcome.LockedBy)
}
