package sqlitequeue

// schema sets up the pending operation log. seq is assigned by SQLite
// in insertion order; replay order is seq order.
const schema = `
CREATE TABLE IF NOT EXISTS pending_ops (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    local_id TEXT NOT NULL DEFAULT '',
    enqueued_at INTEGER NOT NULL
);
`
