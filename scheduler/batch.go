package scheduler

import (
	"time"

	"github.com/goliatone/go-entities"
)

// Batch is the unit of work executed per scheduler iteration: zero or
// more operations/signals, optionally followed by one terminating
// lock request.
type Batch struct {
	Items     []entities.RequestMessage
	LockFinal *entities.RequestMessage
	// ConsumedIndex holds, in ascending order, the indices (into the
	// queue BuildBatch was given) of every message this batch removes.
	// Ineligible non-lock messages are skipped in place (left in the
	// remaining queue) rather than consumed, so ConsumedIndex need not
	// be a contiguous prefix.
	ConsumedIndex []int
}

// IsEmpty reports whether the batch has no operations/signals and no
// terminating lock request.
func (b Batch) IsEmpty() bool {
	return len(b.Items) == 0 && b.LockFinal == nil
}

// RemainingQueue returns queue with every index in b.ConsumedIndex
// removed, preserving the relative arrival order of what's left.
func (b Batch) RemainingQueue(queue []entities.RequestMessage) []entities.RequestMessage {
	if len(b.ConsumedIndex) == 0 {
		return append([]entities.RequestMessage(nil), queue...)
	}
	consumed := make(map[int]struct{}, len(b.ConsumedIndex))
	for _, i := range b.ConsumedIndex {
		consumed[i] = struct{}{}
	}
	out := make([]entities.RequestMessage, 0, len(queue)-len(consumed))
	for i, msg := range queue {
		if _, skip := consumed[i]; skip {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// BuildBatch assembles the next batch from queue following these
// eligibility rules:
//
//   - unlocked: operations/signals from any sender are eligible.
//   - locked by P: only messages whose ParentInstanceID == P are
//     eligible; messages from any other sender are left in the queue
//     (skipped, not dispatched) so the scan can keep looking for more
//     of P's work — the holder's operations may interleave with what's
//     left queued.
//   - a lock request L, when reached:
//   - lockedBy == "": L terminates the batch (included), scanning
//     stops.
//   - lockedBy == L.ParentInstanceID: re-entrant no-op ack, L
//     terminates the batch (included), scanning stops.
//   - otherwise: L blocks. Unlike a plain ineligible operation, a
//     blocking lock request halts the ENTIRE scan — nothing past it
//     is considered this iteration, even other-sender ops that would
//     otherwise be eligible, since subsequent messages are also
//     ineligible while L blocks its sender.
//   - an unlock from the current lock holder is always eligible and is
//     folded into Items (not LockFinal) so the caller applies it
//     atomically with, and ahead of, everything else in the same
//     batch.
//   - a message carrying a future ScheduledAt is not yet due: it is
//     skipped in place (left queued, scan continues) exactly like an
//     ineligible-sender message, regardless of whether it is an
//     operation, signal, or lock request.
//
// sizeLimit, if > 0, caps len(Items); a lock request reached at or
// past the limit is simply left for the next iteration rather than
// being split from its preceding operations.
func BuildBatch(queue []entities.RequestMessage, lockedBy string, sizeLimit int, now time.Time) Batch {
	var batch Batch
	currentLockedBy := lockedBy

	for i, msg := range queue {
		if !msg.IsDue(now) {
			continue // leave queued, not due yet
		}

		if msg.IsLockRequest() {
			eligible := currentLockedBy == "" || currentLockedBy == msg.ParentInstanceID
			if !eligible {
				// halts the whole scan; nothing after this index is
				// examined this iteration.
				break
			}
			if sizeLimit > 0 && len(batch.Items) >= sizeLimit {
				// deferred to the next iteration, same as a plain
				// operation reached at the limit: never split from its
				// preceding ops by applying it early.
				break
			}
			cp := msg
			batch.LockFinal = &cp
			batch.ConsumedIndex = append(batch.ConsumedIndex, i)
			return batch
		}

		if msg.IsUnlock() && currentLockedBy != "" && msg.ParentInstanceID == currentLockedBy {
			batch.Items = append(batch.Items, msg)
			batch.ConsumedIndex = append(batch.ConsumedIndex, i)
			currentLockedBy = ""
			continue
		}

		if currentLockedBy != "" && msg.ParentInstanceID != currentLockedBy {
			continue // ineligible: leave it queued, keep scanning
		}

		if sizeLimit > 0 && len(batch.Items) >= sizeLimit {
			break
		}

		batch.Items = append(batch.Items, msg)
		batch.ConsumedIndex = append(batch.ConsumedIndex, i)
	}

	return batch
}
