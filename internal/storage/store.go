// Package storage provides abstractions for the two local durable
// stores: the snapshot cache and the pending operation queue.
// These abstractions allow swapping storage backends without changing
// the service layer.
package storage

import (
	"context"

	"github.com/mmynk/pouch/internal/models"
)

// Kind is the kind of a pending mutation.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// PendingOp is one queued mutation that could not be confirmed against
// the remote store. Ops are never mutated in place; they are removed
// only after a successful replay.
type PendingOp struct {
	// Seq is the queue-assigned sequence number. Replay order equals
	// Seq order.
	Seq int64

	// Collection is the remote collection the op targets.
	Collection string

	// Kind is create, update or delete.
	Kind Kind

	// Payload is the wire-shaped body. For updates and deletes it
	// carries the target record id under the "id" key, which may be a
	// local placeholder until an earlier create in the same drain pass
	// maps it.
	Payload map[string]any

	// LocalID is set on creates performed offline: the placeholder id
	// the in-memory record carries until the create is confirmed.
	LocalID string

	// EnqueuedAt is the Unix timestamp the op was queued.
	EnqueuedAt int64
}

// ApplyFunc replays one pending op against the remote store. For
// creates it returns the remote-assigned id; for updates and deletes
// the returned id is ignored. Any local id references in op.Payload
// have already been rewritten to their remote ids by the time the
// function is invoked.
type ApplyFunc func(ctx context.Context, op PendingOp) (remoteID string, err error)

// OpQueue is the durable, ordered log of pending mutations.
type OpQueue interface {
	// Enqueue appends an operation. Insertion order is preserved across
	// process restarts.
	Enqueue(ctx context.Context, collection string, kind Kind, payload map[string]any, localID string) error

	// Drain replays queued operations in insertion order. A successful
	// apply removes the operation; for creates the returned remote id
	// is recorded so later operations in the same pass that reference
	// the create's local id are rewritten before being applied. The
	// first failure halts the pass, leaving that operation and all
	// later ones queued untouched for the next attempt.
	Drain(ctx context.Context, apply ApplyFunc) error

	// Len reports how many operations are queued.
	Len(ctx context.Context) (int, error)

	// Close releases any resources held by the queue.
	Close() error
}

// SnapshotCache persists the last known full snapshot of every
// collection. It caches the optimistic in-memory view, not confirmed
// remote truth, and is best-effort: save failures are logged and
// swallowed, load failures read as absent.
type SnapshotCache interface {
	// Save persists the snapshot, overwriting any prior value.
	Save(snapshot *models.Snapshot)

	// Load returns the most recently saved snapshot, or ok=false if
	// none exists or storage is unavailable.
	Load() (snapshot *models.Snapshot, ok bool)

	// Close releases any resources held by the cache.
	Close() error
}
