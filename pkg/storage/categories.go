package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

type categoryRow EncryptedCategory

func kindKey(kind types.CategoryKind, id uuid.UUID) []byte {
	key := make([]byte, 1+16)
	key[0] = byte(kind)
	copy(key[1:], id[:])
	return key
}

// AddCategory inserts row as given. Unlike the other three entity
// kinds, categories never auto-assign a missing id: the all-zero
// uuid.UUID is TransferIncomeID, a legitimate row id rather than an
// "absent id" sentinel, so id assignment for ordinary categories is the
// caller's job (see pkg/budget.Budget.AddCategory). Inserting one of the
// two reserved predefined ids is only expected during
// Budget.Initialize; the store itself does not forbid it, since it
// cannot tell an initialize-time insert from any other.
func (s *Store) AddCategory(row EncryptedCategory) (EncryptedCategory, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(categoryRow(row))
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCategories).Put(row.ID[:], data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCategoriesByKind).Put(kindKey(row.Kind, row.ID), []byte{}); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketCategories, suffixCreatedAt, &row.Meta.CreatedAt, row.ID); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketCategories, suffixChangedAt, row.Meta.ChangedAt, row.ID); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketCategories, suffixRemovedAt, row.Meta.RemovedAt, row.ID)
	})
	if err != nil {
		return EncryptedCategory{}, fmt.Errorf("add category: %w: %w", err, types.ErrIO)
	}
	return row, nil
}

// UpdateCategory overwrites Name (Kind and id are immutable once
// created: spec.md names no operation that reclassifies a category).
func (s *Store) UpdateCategory(row EncryptedCategory) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		existingData := b.Get(row.ID[:])
		if existingData == nil {
			return types.ErrNotFound
		}
		var existing categoryRow
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if isPredefinedCategory(existing.ID) {
			return types.ErrCannotModifyPredefined
		}
		row.Meta.Origin = existing.Meta.Origin
		row.Meta.CreatedAt = existing.Meta.CreatedAt
		row.Kind = existing.Kind

		if err := deleteTimeIndex(tx, bucketCategories, suffixChangedAt, existing.Meta.ChangedAt, existing.ID); err != nil {
			return err
		}
		data, err := json.Marshal(categoryRow(row))
		if err != nil {
			return err
		}
		if err := b.Put(row.ID[:], data); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketCategories, suffixChangedAt, row.Meta.ChangedAt, row.ID)
	})
}

// RemoveCategory sets removed_at = removalTimestamp. Fails with
// ErrCannotDeletePredefined for either reserved transfer category id,
// or ErrConsistencyViolation if any non-removed transaction or plan
// still references id.
func (s *Store) RemoveCategory(id uuid.UUID, removalTimestamp int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if isPredefinedCategory(id) {
			return types.ErrCannotDeletePredefined
		}
		b := tx.Bucket(bucketCategories)
		data := b.Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}

		txRef, err := hasNonRemovedTransactionsForCategory(tx, id)
		if err != nil {
			return err
		}
		planRef, err := hasNonRemovedPlansForCategory(tx, id)
		if err != nil {
			return err
		}
		if txRef || planRef {
			return types.ErrConsistencyViolation
		}

		var row categoryRow
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
		return putTimeIndex(tx, bucketCategories, suffixRemovedAt, row.Meta.RemovedAt, id)
	})
}

func isPredefinedCategory(id uuid.UUID) bool {
	return id == types.TransferIncomeID || id == types.TransferOutcomeID
}

// GetCategory returns the category row for id.
func (s *Store) GetCategory(id uuid.UUID) (EncryptedCategory, error) {
	var row categoryRow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCategories).Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &row)
	})
	return EncryptedCategory(row), err
}

// ListCategories returns all non-removed categories, sorted by kind.
func (s *Store) ListCategories() ([]EncryptedCategory, error) {
	var out []EncryptedCategory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		c := tx.Bucket(bucketCategoriesByKind).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			id := idFromKey(k)
			data := b.Get(id[:])
			if data == nil {
				continue
			}
			var row categoryRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !row.Meta.Removed() {
				out = append(out, EncryptedCategory(row))
			}
		}
		return nil
	})
	return out, err
}

// ListCategoriesByKind returns non-removed categories of the given
// kind, sorted by id.
func (s *Store) ListCategoriesByKind(kind types.CategoryKind) ([]EncryptedCategory, error) {
	var out []EncryptedCategory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		c := tx.Bucket(bucketCategoriesByKind).Cursor()
		prefix := []byte{byte(kind)}
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			id := idFromKey(k)
			data := b.Get(id[:])
			if data == nil {
				continue
			}
			var row categoryRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !row.Meta.Removed() {
				out = append(out, EncryptedCategory(row))
			}
		}
		return nil
	})
	return out, err
}

// CategoriesAddedSince returns categories created at or after since.
func (s *Store) CategoriesAddedSince(since int64) ([]EncryptedCategory, error) {
	return s.categoriesByTimeIndex(suffixCreatedAt, since, false)
}

// CategoriesChangedSince returns categories changed at or after since.
func (s *Store) CategoriesChangedSince(since int64) ([]EncryptedCategory, error) {
	return s.categoriesByTimeIndex(suffixChangedAt, since, false)
}

// CategoriesRemovedSince returns every category (including tombstones)
// removed at or after since.
func (s *Store) CategoriesRemovedSince(since int64) ([]EncryptedCategory, error) {
	return s.categoriesByTimeIndex(suffixRemovedAt, since, true)
}

func (s *Store) categoriesByTimeIndex(suffix []byte, since int64, includeRemoved bool) ([]EncryptedCategory, error) {
	var out []EncryptedCategory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCategories)
		return scanSince(tx, bucketCategories, suffix, since, func(id uuid.UUID) error {
			data := b.Get(id[:])
			if data == nil {
				return nil
			}
			var row categoryRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !includeRemoved && row.Meta.Removed() {
				return nil
			}
			out = append(out, EncryptedCategory(row))
			return nil
		})
	})
	return out, err
}
