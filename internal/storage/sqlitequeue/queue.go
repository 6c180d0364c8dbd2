// Package sqlitequeue provides a SQLite-backed implementation of the
// storage.OpQueue interface: a durable, strictly ordered log of
// mutations awaiting replay against the remote store.
package sqlitequeue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/pouch/internal/storage"
)

// Ensure Queue implements storage.OpQueue
var _ storage.OpQueue = (*Queue)(nil)

// Queue implements storage.OpQueue using SQLite.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger

	// Serializes drains against each other. Enqueues during a drain are
	// fine: they land after the rows the drain already selected.
	drainMu sync.Mutex
}

// New creates a Queue backed by the database at dbPath, creating parent
// directories and the schema as needed.
func New(dbPath string, logger *slog.Logger) (*Queue, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run queue migrations: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue appends an operation to the log.
func (q *Queue) Enqueue(ctx context.Context, collection string, kind storage.Kind, payload map[string]any, localID string) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	_, err = q.db.ExecContext(ctx,
		"INSERT INTO pending_ops (collection, kind, payload, local_id, enqueued_at) VALUES (?, ?, ?, ?, ?)",
		collection, string(kind), string(encoded), localID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}

	q.logger.Debug("operation enqueued",
		"collection", collection,
		"kind", kind,
		"local_id", localID,
	)
	return nil
}

// Drain replays queued operations in insertion order. The first apply
// failure halts the pass: that operation and every later one stay
// queued, preserving causal ordering between dependent operations for
// the next attempt. Remote ids returned by successful creates are
// recorded and substituted into later payloads in the same pass.
func (q *Queue) Drain(ctx context.Context, apply storage.ApplyFunc) error {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	ops, err := q.pending(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	idMap := make(map[string]string)
	for _, op := range ops {
		op.Payload = substituteIDs(op.Payload, idMap)

		remoteID, err := apply(ctx, op)
		if err != nil {
			q.logger.Warn("drain halted",
				"collection", op.Collection,
				"kind", op.Kind,
				"seq", op.Seq,
				"error", err,
			)
			return fmt.Errorf("failed to replay %s %s op (seq %d): %w", op.Collection, op.Kind, op.Seq, err)
		}

		if op.Kind == storage.KindCreate && op.LocalID != "" && remoteID != "" {
			idMap[op.LocalID] = remoteID
		}

		if _, err := q.db.ExecContext(ctx, "DELETE FROM pending_ops WHERE seq = ?", op.Seq); err != nil {
			return fmt.Errorf("failed to remove replayed op %d: %w", op.Seq, err)
		}
	}

	q.logger.Info("queue drained", "ops", len(ops))
	return nil
}

// Len reports how many operations are queued.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_ops").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	return n, nil
}

// pending loads every queued op in seq order.
func (q *Queue) pending(ctx context.Context) ([]storage.PendingOp, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT seq, collection, kind, payload, local_id, enqueued_at FROM pending_ops ORDER BY seq",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending ops: %w", err)
	}
	defer rows.Close()

	var ops []storage.PendingOp
	for rows.Next() {
		var op storage.PendingOp
		var kind, payload string
		if err := rows.Scan(&op.Seq, &op.Collection, &kind, &payload, &op.LocalID, &op.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending op: %w", err)
		}
		op.Kind = storage.Kind(kind)
		if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for op %d: %w", op.Seq, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending ops: %w", err)
	}
	return ops, nil
}

// substituteIDs returns a copy of the payload with every string value
// that matches a mapped local id replaced by its remote id. Values are
// walked recursively so nested structures (e.g. template splits) are
// covered too.
func substituteIDs(payload map[string]any, idMap map[string]string) map[string]any {
	if len(idMap) == 0 {
		return payload
	}
	out, _ := substituteValue(payload, idMap).(map[string]any)
	return out
}

func substituteValue(v any, idMap map[string]string) any {
	switch val := v.(type) {
	case string:
		if remote, ok := idMap[val]; ok {
			return remote
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = substituteValue(inner, idMap)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = substituteValue(inner, idMap)
		}
		return out
	default:
		return val
	}
}
