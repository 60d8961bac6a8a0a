package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

type accountRow EncryptedAccount

// AddAccount inserts row, assigning a fresh id if row.ID is the zero
// value.
func (s *Store) AddAccount(row EncryptedAccount) (EncryptedAccount, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(accountRow(row))
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketAccounts).Put(row.ID[:], data); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketAccounts, suffixCreatedAt, &row.Meta.CreatedAt, row.ID); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketAccounts, suffixChangedAt, row.Meta.ChangedAt, row.ID); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketAccounts, suffixRemovedAt, row.Meta.RemovedAt, row.ID)
	})
	if err != nil {
		return EncryptedAccount{}, fmt.Errorf("add account: %w: %w", err, types.ErrIO)
	}
	return row, nil
}

// UpdateAccount overwrites the mutable fields (name/balance/
// initial_balance) of an existing account. Origin and CreatedAt are
// taken from the stored row.
func (s *Store) UpdateAccount(row EncryptedAccount) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		existingData := b.Get(row.ID[:])
		if existingData == nil {
			return types.ErrNotFound
		}
		var existing accountRow
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		row.Meta.Origin = existing.Meta.Origin
		row.Meta.CreatedAt = existing.Meta.CreatedAt

		if err := deleteTimeIndex(tx, bucketAccounts, suffixChangedAt, existing.Meta.ChangedAt, existing.ID); err != nil {
			return err
		}
		data, err := json.Marshal(accountRow(row))
		if err != nil {
			return err
		}
		if err := b.Put(row.ID[:], data); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketAccounts, suffixChangedAt, row.Meta.ChangedAt, row.ID)
	})
}

// RemoveAccount sets removed_at = removalTimestamp, failing with
// ErrConsistencyViolation if any non-removed transaction still
// references id.
func (s *Store) RemoveAccount(id uuid.UUID, removalTimestamp int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data := b.Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}

		referenced, err := hasNonRemovedTransactionsForAccount(tx, id)
		if err != nil {
			return err
		}
		if referenced {
			return types.ErrConsistencyViolation
		}

		var row accountRow
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
		return putTimeIndex(tx, bucketAccounts, suffixRemovedAt, row.Meta.RemovedAt, id)
	})
}

// GetAccount returns the account row for id.
func (s *Store) GetAccount(id uuid.UUID) (EncryptedAccount, error) {
	var row accountRow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &row)
	})
	return EncryptedAccount(row), err
}

// ListAccounts returns all non-removed accounts.
func (s *Store) ListAccounts() ([]EncryptedAccount, error) {
	var out []EncryptedAccount
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var row accountRow
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !row.Meta.Removed() {
				out = append(out, EncryptedAccount(row))
			}
			return nil
		})
	})
	return out, err
}

// AccountsAddedSince returns accounts created at or after since.
func (s *Store) AccountsAddedSince(since int64) ([]EncryptedAccount, error) {
	return s.accountsByTimeIndex(suffixCreatedAt, since, false)
}

// AccountsChangedSince returns accounts changed at or after since.
// Reserved: always empty until a future revision sets Meta.ChangedAt.
func (s *Store) AccountsChangedSince(since int64) ([]EncryptedAccount, error) {
	return s.accountsByTimeIndex(suffixChangedAt, since, false)
}

// AccountsRemovedSince returns every account (including tombstones)
// removed at or after since.
func (s *Store) AccountsRemovedSince(since int64) ([]EncryptedAccount, error) {
	return s.accountsByTimeIndex(suffixRemovedAt, since, true)
}

func (s *Store) accountsByTimeIndex(suffix []byte, since int64, includeRemoved bool) ([]EncryptedAccount, error) {
	var out []EncryptedAccount
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return scanSince(tx, bucketAccounts, suffix, since, func(id uuid.UUID) error {
			data := b.Get(id[:])
			if data == nil {
				return nil
			}
			var row accountRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !includeRemoved && row.Meta.Removed() {
				return nil
			}
			out = append(out, EncryptedAccount(row))
			return nil
		})
	})
	return out, err
}
