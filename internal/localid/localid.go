// Package localid generates placeholder identifiers for records created
// while offline. A local ID stands in for the remote store's ID until
// the pending operation queue drains and the create is confirmed.
package localid

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Collection prefixes. Purely for human debuggability when reading
// queue dumps and logs; correctness never depends on the prefix.
const (
	PrefixMoneyDrop      = "drop"
	PrefixDebt           = "debt"
	PrefixSubscription   = "sub"
	PrefixAllocation     = "alloc"
	PrefixTransaction    = "txn"
	PrefixBudgetTemplate = "tmpl"
)

// marker separates the prefix from the entropy and distinguishes local
// IDs from remote-assigned ones (the remote store never emits "-local-").
const marker = "-local-"

var counter atomic.Uint64

// Generate returns a new placeholder ID for the given collection prefix.
// IDs are unique within the process (monotonic counter) and effectively
// unique across restarts (timestamp plus a UUID-derived suffix), so a
// queued create enqueued in a previous run can never collide with one
// from the current run.
func Generate(prefix string) string {
	n := counter.Add(1)
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s%s%d-%d-%s", prefix, marker, time.Now().UnixMilli(), n, suffix)
}

// IsLocal reports whether id is a placeholder generated by this package,
// as opposed to a remote-assigned ID.
func IsLocal(id string) bool {
	return strings.Contains(id, marker)
}
