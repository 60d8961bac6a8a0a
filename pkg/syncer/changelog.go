package syncer

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

// AccountDelta partitions one sync cycle's account changes.
type AccountDelta struct {
	Added   []types.Account `msgpack:"added"`
	Changed []types.Account `msgpack:"changed"`
	Removed []types.Account `msgpack:"removed"`
}

// CategoryDelta partitions one sync cycle's category changes.
type CategoryDelta struct {
	Added   []types.Category `msgpack:"added"`
	Changed []types.Category `msgpack:"changed"`
	Removed []types.Category `msgpack:"removed"`
}

// TransactionDelta partitions one sync cycle's transaction changes.
type TransactionDelta struct {
	Added   []types.Transaction `msgpack:"added"`
	Changed []types.Transaction `msgpack:"changed"`
	Removed []types.Transaction `msgpack:"removed"`
}

// PlanDelta partitions one sync cycle's plan changes.
type PlanDelta struct {
	Added   []types.Plan `msgpack:"added"`
	Changed []types.Plan `msgpack:"changed"`
	Removed []types.Plan `msgpack:"removed"`
}

// Changelog is the plain aggregate of four entity-kind deltas exchanged
// between instances, per spec.md §6's wire protocol. Changed is always
// empty on every delta: spec.md leaves Changelog.changed unimplemented
// (see SPEC_FULL.md §9), so Changed is populated by nothing today and
// ignored on merge. It is kept in the shape (rather than dropped) so a
// future revision can start populating it without changing the wire
// format.
type Changelog struct {
	Accounts     AccountDelta     `msgpack:"accounts"`
	Categories   CategoryDelta    `msgpack:"categories"`
	Transactions TransactionDelta `msgpack:"transactions"`
	Plans        PlanDelta        `msgpack:"plans"`
}

// Empty reports whether every partition of every entity kind is empty.
func (c Changelog) Empty() bool {
	return len(c.Accounts.Added) == 0 && len(c.Accounts.Changed) == 0 && len(c.Accounts.Removed) == 0 &&
		len(c.Categories.Added) == 0 && len(c.Categories.Changed) == 0 && len(c.Categories.Removed) == 0 &&
		len(c.Transactions.Added) == 0 && len(c.Transactions.Changed) == 0 && len(c.Transactions.Removed) == 0 &&
		len(c.Plans.Added) == 0 && len(c.Plans.Changed) == 0 && len(c.Plans.Removed) == 0
}

// merge appends delta's partitions onto c, producing the new cumulative
// changelog (SPEC_FULL.md §4.5 step 5, "concatenate").
func (c Changelog) merge(delta Changelog) Changelog {
	c.Accounts.Added = append(c.Accounts.Added, delta.Accounts.Added...)
	c.Accounts.Changed = append(c.Accounts.Changed, delta.Accounts.Changed...)
	c.Accounts.Removed = append(c.Accounts.Removed, delta.Accounts.Removed...)

	c.Categories.Added = append(c.Categories.Added, delta.Categories.Added...)
	c.Categories.Changed = append(c.Categories.Changed, delta.Categories.Changed...)
	c.Categories.Removed = append(c.Categories.Removed, delta.Categories.Removed...)

	c.Transactions.Added = append(c.Transactions.Added, delta.Transactions.Added...)
	c.Transactions.Changed = append(c.Transactions.Changed, delta.Transactions.Changed...)
	c.Transactions.Removed = append(c.Transactions.Removed, delta.Transactions.Removed...)

	c.Plans.Added = append(c.Plans.Added, delta.Plans.Added...)
	c.Plans.Changed = append(c.Plans.Changed, delta.Plans.Changed...)
	c.Plans.Removed = append(c.Plans.Removed, delta.Plans.Removed...)
	return c
}

// encodeChangelog serializes c as MessagePack, the bit-exact wire format
// spec.md §6 mandates.
func encodeChangelog(c Changelog) ([]byte, error) {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode changelog: %w", err)
	}
	return b, nil
}

// decodeChangelog is the inverse of encodeChangelog.
func decodeChangelog(b []byte) (Changelog, error) {
	var c Changelog
	if err := msgpack.Unmarshal(b, &c); err != nil {
		return Changelog{}, fmt.Errorf("decode changelog: %w", err)
	}
	return c, nil
}
