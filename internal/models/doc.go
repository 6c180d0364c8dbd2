// Package models defines the core domain records for Pouch.
//
// # Collections
//
// Six record collections are synced with the remote store, each
// independently:
//   - MoneyDrop: a unit of incoming funds (salary drop or one-off)
//   - Allocation: a virtual wallet/bucket drawing from a money drop
//   - Transaction: a single expense against an allocation
//   - Debt: money owed, tracked with a remaining balance
//   - Subscription: a recurring charge on a fixed billing day
//   - BudgetTemplate: reusable percentage splits for new money drops
//
// # Identity
//
// Every record has a string ID. Remote-assigned IDs are opaque strings
// from the store; records created while offline carry a locally
// generated placeholder ID (see package localid) until the sync queue
// drains and the remote store assigns the real one. Records may
// reference other records by ID (Allocation -> MoneyDrop,
// Transaction -> Allocation), and such references may point at a
// still-pending local ID.
//
// # Shapes
//
// These are the in-memory shapes the rest of the app works with. The
// remote store uses different field names for some of them (e.g.
// transaction_date, type); the service package owns that translation.
package models
