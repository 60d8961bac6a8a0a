// Package types defines the core domain model shared by every bdgt
// package: the four encrypted entity kinds, their provenance metadata,
// and the small set of identifiers and errors everything else builds on.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current wall-clock time as Unix seconds (UTC).
// Tests substitute a fixed clock to make timestamps deterministic.
type Clock func() int64

// RealClock is the default Clock, backed by time.Now.
func RealClock() int64 {
	return time.Now().UTC().Unix()
}

// CategoryKind distinguishes income from outcome categories.
type CategoryKind uint8

const (
	Income CategoryKind = 0
	Outcome CategoryKind = 1
)

// TransferIncomeID and TransferOutcomeID are the two reserved category
// ids used to tag the synthetic legs of a transfer. They are never
// removable and are skipped by peer merges (see Meta.CreatedAt == 0).
var (
	TransferIncomeID  = uuid.Nil
	TransferOutcomeID = uuid.UUID{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	}
)

// Meta carries the provenance every row needs for sync: where it was
// created, and when it was created/changed/removed. ChangedAt and
// RemovedAt are nil until the corresponding mutation happens.
type Meta struct {
	Origin    uuid.UUID `msgpack:"origin"`
	CreatedAt int64     `msgpack:"created_at"`
	ChangedAt *int64    `msgpack:"changed_at"`
	RemovedAt *int64    `msgpack:"removed_at"`
}

// Removed reports whether the row is logically deleted.
func (m Meta) Removed() bool {
	return m.RemovedAt != nil
}

// Account is a named, balance-carrying ledger. Name, Balance, and
// InitialBalance are encrypted at rest; ID and Meta are plaintext.
type Account struct {
	ID             uuid.UUID `msgpack:"id"`
	Name           string    `msgpack:"name"`
	Balance        int64     `msgpack:"balance"`
	InitialBalance int64     `msgpack:"initial_balance"`
	Meta           Meta      `msgpack:"meta"`
}

// Category tags transactions and plans as income or outcome.
type Category struct {
	ID   uuid.UUID    `msgpack:"id"`
	Name string       `msgpack:"name"`
	Kind CategoryKind `msgpack:"kind"`
	Meta Meta         `msgpack:"meta"`
}

// Transaction is a timestamped, signed change to one account's balance.
// PostedAt is plaintext (range queries need it); Description and Amount
// are encrypted.
type Transaction struct {
	ID          uuid.UUID `msgpack:"id"`
	PostedAt    int64     `msgpack:"posted_at"`
	Description string    `msgpack:"description"`
	AccountID   uuid.UUID `msgpack:"account_id"`
	CategoryID  uuid.UUID `msgpack:"category_id"`
	Amount      int64     `msgpack:"amount"`
	Meta        Meta      `msgpack:"meta"`
}

// Plan is a category-scoped budget limit.
type Plan struct {
	ID          uuid.UUID `msgpack:"id"`
	CategoryID  uuid.UUID `msgpack:"category_id"`
	Name        string    `msgpack:"name"`
	AmountLimit int64     `msgpack:"amount_limit"`
	Meta        Meta      `msgpack:"meta"`
}
