package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

type txRow struct {
	ID            uuid.UUID
	PostedAt      int64
	DescriptionCT []byte
	AccountID     uuid.UUID
	CategoryID    uuid.UUID
	AmountCT      []byte
	Meta          types.Meta
}

func toTxRow(e EncryptedTransaction) txRow {
	return txRow(e)
}

func fromTxRow(r txRow) EncryptedTransaction {
	return EncryptedTransaction(r)
}

// AddTransaction inserts row, assigning a fresh id if row.ID is the
// zero value.
func (s *Store) AddTransaction(row EncryptedTransaction) (EncryptedTransaction, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(toTxRow(row))
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketTransactions)
		if err := b.Put(row.ID[:], data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByPostedAt).Put(timeKey(row.PostedAt, row.ID), []byte{}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByAccount).Put(prefixKey(row.AccountID[:], row.PostedAt, row.ID), []byte{}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByCategory).Put(prefixKey(row.CategoryID[:], row.PostedAt, row.ID), []byte{}); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketTransactions, suffixCreatedAt, &row.Meta.CreatedAt, row.ID); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketTransactions, suffixChangedAt, row.Meta.ChangedAt, row.ID); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketTransactions, suffixRemovedAt, row.Meta.RemovedAt, row.ID)
	})
	if err != nil {
		return EncryptedTransaction{}, fmt.Errorf("add transaction: %w: %w", err, types.ErrIO)
	}
	return row, nil
}

// UpdateTransaction overwrites the mutable fields of an existing
// transaction row. Meta.Origin and Meta.CreatedAt are taken from the
// stored row, not from the argument, per the immutability invariant.
func (s *Store) UpdateTransaction(row EncryptedTransaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		existingData := b.Get(row.ID[:])
		if existingData == nil {
			return types.ErrNotFound
		}
		var existing txRow
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}

		row.Meta.Origin = existing.Meta.Origin
		row.Meta.CreatedAt = existing.Meta.CreatedAt

		if err := tx.Bucket(bucketTransactionsByPostedAt).Delete(timeKey(existing.PostedAt, existing.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByAccount).Delete(prefixKey(existing.AccountID[:], existing.PostedAt, existing.ID)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByCategory).Delete(prefixKey(existing.CategoryID[:], existing.PostedAt, existing.ID)); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketTransactions, suffixChangedAt, existing.Meta.ChangedAt, existing.ID); err != nil {
			return err
		}

		data, err := json.Marshal(toTxRow(row))
		if err != nil {
			return err
		}
		if err := b.Put(row.ID[:], data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByPostedAt).Put(timeKey(row.PostedAt, row.ID), []byte{}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByAccount).Put(prefixKey(row.AccountID[:], row.PostedAt, row.ID), []byte{}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTransactionsByCategory).Put(prefixKey(row.CategoryID[:], row.PostedAt, row.ID), []byte{}); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketTransactions, suffixChangedAt, row.Meta.ChangedAt, row.ID)
	})
}

// RemoveTransaction sets removed_at = removalTimestamp on id.
func (s *Store) RemoveTransaction(id uuid.UUID, removalTimestamp int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		data := b.Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}
		var row txRow
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		row.Meta.RemovedAt = &removalTimestamp
		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := b.Put(id[:], out); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketTransactions, suffixRemovedAt, row.Meta.RemovedAt, id)
	})
}

// GetTransaction returns the transaction row for id.
func (s *Store) GetTransaction(id uuid.UUID) (EncryptedTransaction, error) {
	var row txRow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTransactions).Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &row)
	})
	if err != nil {
		return EncryptedTransaction{}, err
	}
	return fromTxRow(row), nil
}

// TransactionFilter scopes ListTransactions. A nil AccountID/CategoryID
// or nil Start/End means "no constraint on that axis".
type TransactionFilter struct {
	AccountID      *uuid.UUID
	CategoryID     *uuid.UUID
	Start, End     *int64 // half-open [Start, End)
	IncludeRemoved bool
}

// ListTransactions returns transactions matching filter, sorted by
// posted_at descending, excluding tombstones unless IncludeRemoved.
func (s *Store) ListTransactions(filter TransactionFilter) ([]EncryptedTransaction, error) {
	var rows []txRow
	err := s.db.View(func(tx *bolt.Tx) error {
		var ids []uuid.UUID
		switch {
		case filter.AccountID != nil:
			ids = scanPrefixedTimeIndex(tx, bucketTransactionsByAccount, (*filter.AccountID)[:])
		case filter.CategoryID != nil:
			ids = scanPrefixedTimeIndex(tx, bucketTransactionsByCategory, (*filter.CategoryID)[:])
		default:
			ids = scanAllTimeIndex(tx, bucketTransactionsByPostedAt)
		}

		b := tx.Bucket(bucketTransactions)
		for _, id := range ids {
			data := b.Get(id[:])
			if data == nil {
				continue
			}
			var row txRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !filter.IncludeRemoved && row.Meta.Removed() {
				continue
			}
			if filter.Start != nil && row.PostedAt < *filter.Start {
				continue
			}
			if filter.End != nil && row.PostedAt >= *filter.End {
				continue
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Indexes are stored ascending by posted_at; the spec default sort
	// is descending.
	out := make([]EncryptedTransaction, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = fromTxRow(row)
	}
	return out, nil
}

// hasNonRemovedTransactionsForAccount reports whether any non-removed
// transaction references accountID.
func hasNonRemovedTransactionsForAccount(tx *bolt.Tx, accountID uuid.UUID) (bool, error) {
	found := false
	b := tx.Bucket(bucketTransactions)
	c := tx.Bucket(bucketTransactionsByAccount).Cursor()
	prefix := accountID[:]
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		id := idFromKey(k)
		data := b.Get(id[:])
		if data == nil {
			continue
		}
		var row txRow
		if err := json.Unmarshal(data, &row); err != nil {
			return false, fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if !row.Meta.Removed() {
			found = true
			break
		}
	}
	return found, nil
}

// hasNonRemovedTransactionsForCategory reports whether any non-removed
// transaction references categoryID.
func hasNonRemovedTransactionsForCategory(tx *bolt.Tx, categoryID uuid.UUID) (bool, error) {
	found := false
	b := tx.Bucket(bucketTransactions)
	c := tx.Bucket(bucketTransactionsByCategory).Cursor()
	prefix := categoryID[:]
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		id := idFromKey(k)
		data := b.Get(id[:])
		if data == nil {
			continue
		}
		var row txRow
		if err := json.Unmarshal(data, &row); err != nil {
			return false, fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if !row.Meta.Removed() {
			found = true
			break
		}
	}
	return found, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func scanPrefixedTimeIndex(tx *bolt.Tx, bucket []byte, prefix []byte) []uuid.UUID {
	var ids []uuid.UUID
	c := tx.Bucket(bucket).Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, idFromKey(k))
	}
	return ids
}

func scanAllTimeIndex(tx *bolt.Tx, bucket []byte) []uuid.UUID {
	var ids []uuid.UUID
	c := tx.Bucket(bucket).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		ids = append(ids, idFromKey(k))
	}
	return ids
}

// TransactionsAddedSince returns transactions created at or after since,
// in creation order, excluding tombstones created and removed before
// the scan (tombstones are returned by TransactionsRemovedSince only).
func (s *Store) TransactionsAddedSince(since int64) ([]EncryptedTransaction, error) {
	return s.transactionsByTimeIndex(suffixCreatedAt, since, false)
}

// TransactionsChangedSince returns transactions changed at or after
// since. Reserved for a future schema revision: nothing currently sets
// Meta.ChangedAt, so this is always empty today (see SPEC_FULL.md §9).
func (s *Store) TransactionsChangedSince(since int64) ([]EncryptedTransaction, error) {
	return s.transactionsByTimeIndex(suffixChangedAt, since, false)
}

// TransactionsRemovedSince returns every transaction (including
// tombstones) removed at or after since.
func (s *Store) TransactionsRemovedSince(since int64) ([]EncryptedTransaction, error) {
	return s.transactionsByTimeIndex(suffixRemovedAt, since, true)
}

func (s *Store) transactionsByTimeIndex(suffix []byte, since int64, includeRemoved bool) ([]EncryptedTransaction, error) {
	var out []EncryptedTransaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		return scanSince(tx, bucketTransactions, suffix, since, func(id uuid.UUID) error {
			data := b.Get(id[:])
			if data == nil {
				return nil
			}
			var row txRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !includeRemoved && row.Meta.Removed() {
				return nil
			}
			out = append(out, fromTxRow(row))
			return nil
		})
	})
	return out, err
}
