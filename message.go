package entities

import (
	"time"

	"github.com/google/uuid"
)

// OperationUnlock is the reserved operation name used for the unlock
// message that releases a held lock. An unlock is always a signal.
const OperationUnlock = "__unlock__"

// RequestMessage is an operation, signal, or lock request addressed to
// one entity's scheduler.
type RequestMessage struct {
	ID                string
	ParentInstanceID  string
	Operation         string
	Input             string
	IsSignal          bool
	LockSet           []EntityId
	Position          int
	ScheduledAt       *time.Time
}

// NewRequestID mints a globally unique request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// IsLockRequest reports whether m carries a non-empty LockSet: a
// message is a lock request iff lockSet is non-empty.
func (m RequestMessage) IsLockRequest() bool {
	return len(m.LockSet) > 0
}

// IsUnlock reports whether m is the reserved unlock signal.
func (m RequestMessage) IsUnlock() bool {
	return m.IsSignal && m.Operation == OperationUnlock
}

// CurrentLockTarget returns the EntityId this lock request is currently
// routed to, i.e. LockSet[Position]. ok is false if m is not a lock
// request or Position is out of range.
func (m RequestMessage) CurrentLockTarget() (id EntityId, ok bool) {
	if !m.IsLockRequest() || m.Position < 0 || m.Position >= len(m.LockSet) {
		return EntityId{}, false
	}
	return m.LockSet[m.Position], true
}

// HasMoreLockTargets reports whether advancing Position stays within LockSet.
func (m RequestMessage) HasMoreLockTargets() bool {
	return m.Position+1 < len(m.LockSet)
}

// Advanced returns a copy of m with Position incremented, the step
// taken at each hop of the lock chain.
func (m RequestMessage) Advanced() RequestMessage {
	cp := m
	cp.Position++
	return cp
}

// IsDue reports whether a ScheduledAt deferred-delivery message is
// ready to be admitted into the queue as of "at". Messages with no
// ScheduledAt are always due.
func (m RequestMessage) IsDue(at time.Time) bool {
	return m.ScheduledAt == nil || !m.ScheduledAt.After(at)
}

// ResponseMessage carries exactly one of a successful result or an
// error back to the caller that issued a non-signal RequestMessage.
type ResponseMessage struct {
	CorrelationID    string
	Result           string
	ExceptionType    string
	ExceptionDetails string
}

// IsError reports whether this response carries an exception.
func (r ResponseMessage) IsError() bool {
	return r.ExceptionType != ""
}

// NewResultResponse builds a successful response.
func NewResultResponse(correlationID, result string) ResponseMessage {
	return ResponseMessage{CorrelationID: correlationID, Result: result}
}

// NewErrorResponse builds a failed response with the given exception
// type/details (see the error taxonomy in errors.go).
func NewErrorResponse(correlationID string, exceptionType ExceptionType, details string) ResponseMessage {
	return ResponseMessage{
		CorrelationID:    correlationID,
		ExceptionType:    string(exceptionType),
		ExceptionDetails: details,
	}
}
