package scheduler

import "github.com/goliatone/go-entities"

// LockOutcome is what applying a batch's terminating lock request
// produces: the entity's new lockedBy, and at most one of a message to
// forward along the lock chain or a completion response to send back
// to the original requester.
type LockOutcome struct {
	LockedBy        string
	Forward         *entities.RequestMessage
	ForwardTarget   string // scheduler instance id of lockSet[position]
	Completion      *entities.ResponseMessage
	CompletionTo    string // parentInstanceId of the original request
	ProtocolError   error  // non-nil: L was malformed and must be dropped, not applied
}

// lockCompletionText is the diagnostic-only literal placed in a
// lock-completion ResponseMessage's result field. Callers must not
// parse it.
const lockCompletionText = "lock acquired"

// ApplyLock processes batch.LockFinal, if any, against self and the
// entity's current lockedBy. It does not mutate state; the caller
// applies LockOutcome.LockedBy to State.LockedBy as part of the same
// write-back as the rest of the batch.
func ApplyLock(self entities.EntityId, lockFinal *entities.RequestMessage, lockedBy string) LockOutcome {
	if lockFinal == nil {
		return LockOutcome{LockedBy: lockedBy}
	}
	L := *lockFinal

	if L.Position < 0 || L.Position >= len(L.LockSet) {
		return LockOutcome{LockedBy: lockedBy, ProtocolError: entities.NewProtocolViolation(
			"lock request position out of range", map[string]any{"position": L.Position})}
	}
	if !self.Equal(L.LockSet[L.Position]) {
		return LockOutcome{LockedBy: lockedBy, ProtocolError: entities.NewProtocolViolation(
			"lock request position does not address this entity", map[string]any{"position": L.Position})}
	}
	if !entities.IsSortedLockSet(L.LockSet) {
		return LockOutcome{LockedBy: lockedBy, ProtocolError: entities.NewProtocolViolation(
			"lockSet is not sorted/deduplicated", nil)}
	}

	// BuildBatch only ever hands ApplyLock an eligible request —
	// lockedBy == "" (fresh acquisition) or lockedBy == L.ParentInstanceID
	// (re-entrant) — and both cases advance identically from here.
	return completeOrForward(self, L, L.ParentInstanceID)
}

// completeOrForward advances L.Position and either forwards the
// request to the next entity in the chain, or — if L was already at
// the last position — emits the lock-completion response.
func completeOrForward(self entities.EntityId, L entities.RequestMessage, newLockedBy string) LockOutcome {
	out := LockOutcome{LockedBy: newLockedBy}

	if L.HasMoreLockTargets() {
		advanced := L.Advanced()
		target := advanced.LockSet[advanced.Position]
		out.Forward = &advanced
		out.ForwardTarget = entities.ToSchedulerInstanceID(target)
		return out
	}

	resp := entities.NewResultResponse(L.ID, lockCompletionText)
	out.Completion = &resp
	out.CompletionTo = L.ParentInstanceID
	return out
}

// ApplyUnlock reports whether req is an unlock message that the
// current lockedBy may use to release the entity: any message from the
// current lockedBy marked as unlock clears lockedBy atomically and
// never delivers a response. BuildBatch already restricts which unlock
// messages reach Items, so this is a pure predicate the loop uses to
// know when to clear lockedBy.
func ApplyUnlock(req entities.RequestMessage, lockedBy string) bool {
	return req.IsUnlock() && lockedBy != "" && req.ParentInstanceID == lockedBy
}
