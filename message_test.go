package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsLockRequest(t *testing.T) {
	op := RequestMessage{Operation: "get"}
	assert.False(t, op.IsLockRequest())

	lock := RequestMessage{LockSet: []EntityId{NewEntityId("Counter", "a")}}
	assert.True(t, lock.IsLockRequest())
}

func TestIsUnlock(t *testing.T) {
	unlock := RequestMessage{Operation: OperationUnlock, IsSignal: true}
	assert.True(t, unlock.IsUnlock())

	notSignal := RequestMessage{Operation: OperationUnlock, IsSignal: false}
	assert.False(t, notSignal.IsUnlock())
}

func TestCurrentLockTargetAndAdvance(t *testing.T) {
	set := []EntityId{NewEntityId("Counter", "a"), NewEntityId("Counter", "b")}
	m := RequestMessage{LockSet: set, Position: 0}

	target, ok := m.CurrentLockTarget()
	assert.True(t, ok)
	assert.Equal(t, set[0], target)
	assert.True(t, m.HasMoreLockTargets())

	advanced := m.Advanced()
	assert.Equal(t, 1, advanced.Position)
	target, ok = advanced.CurrentLockTarget()
	assert.True(t, ok)
	assert.Equal(t, set[1], target)
	assert.False(t, advanced.HasMoreLockTargets())
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	immediate := RequestMessage{}
	assert.True(t, immediate.IsDue(now))

	future := now.Add(time.Hour)
	deferred := RequestMessage{ScheduledAt: &future}
	assert.False(t, deferred.IsDue(now))
	assert.True(t, deferred.IsDue(future.Add(time.Minute)))
}

func TestOperationResultToResponse(t *testing.T) {
	ok := NewOK("8")
	resp := ok.ToResponse("req-1")
	assert.Equal(t, "req-1", resp.CorrelationID)
	assert.False(t, resp.IsError())
	assert.Equal(t, "8", resp.Result)

	failed := NewErr(ExceptionUnknownOperation, "no such operation")
	resp = failed.ToResponse("req-2")
	assert.True(t, resp.IsError())
	assert.Equal(t, string(ExceptionUnknownOperation), resp.ExceptionType)
}
