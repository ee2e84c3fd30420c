// Package entities defines the wire-level vocabulary of the entity
// scheduler: entity identity, request/response messages, and the error
// taxonomy shared by the scheduler, runtime, and client packages.
//
// The scheduling logic itself — batching, locking, dispatch, the
// replayable loop — lives in the scheduler package. This package only
// carries the data model that crosses package (and, eventually, wire)
// boundaries.
package entities
