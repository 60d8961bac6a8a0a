package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

type planRow EncryptedPlan

func categoryIDKey(categoryID, id uuid.UUID) []byte {
	key := make([]byte, 32)
	copy(key[:16], categoryID[:])
	copy(key[16:], id[:])
	return key
}

// AddPlan inserts row, assigning a fresh id if row.ID is the zero
// value.
func (s *Store) AddPlan(row EncryptedPlan) (EncryptedPlan, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(planRow(row))
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketPlans).Put(row.ID[:], data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketPlansByCategory).Put(categoryIDKey(row.CategoryID, row.ID), []byte{}); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketPlans, suffixCreatedAt, &row.Meta.CreatedAt, row.ID); err != nil {
			return err
		}
		if err := putTimeIndex(tx, bucketPlans, suffixChangedAt, row.Meta.ChangedAt, row.ID); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketPlans, suffixRemovedAt, row.Meta.RemovedAt, row.ID)
	})
	if err != nil {
		return EncryptedPlan{}, fmt.Errorf("add plan: %w: %w", err, types.ErrIO)
	}
	return row, nil
}

// UpdatePlan overwrites Name and AmountLimit. CategoryID is immutable
// after insert (spec.md names no "move plan to another category"
// operation).
func (s *Store) UpdatePlan(row EncryptedPlan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		existingData := b.Get(row.ID[:])
		if existingData == nil {
			return types.ErrNotFound
		}
		var existing planRow
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		row.Meta.Origin = existing.Meta.Origin
		row.Meta.CreatedAt = existing.Meta.CreatedAt
		row.CategoryID = existing.CategoryID

		if err := deleteTimeIndex(tx, bucketPlans, suffixChangedAt, existing.Meta.ChangedAt, existing.ID); err != nil {
			return err
		}
		data, err := json.Marshal(planRow(row))
		if err != nil {
			return err
		}
		if err := b.Put(row.ID[:], data); err != nil {
			return err
		}
		return putTimeIndex(tx, bucketPlans, suffixChangedAt, row.Meta.ChangedAt, row.ID)
	})
}

// RemovePlan sets removed_at = removalTimestamp.
func (s *Store) RemovePlan(id uuid.UUID, removalTimestamp int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		data := b.Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}
		var row planRow
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
		return putTimeIndex(tx, bucketPlans, suffixRemovedAt, row.Meta.RemovedAt, id)
	})
}

// GetPlan returns the plan row for id.
func (s *Store) GetPlan(id uuid.UUID) (EncryptedPlan, error) {
	var row planRow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPlans).Get(id[:])
		if data == nil {
			return types.ErrNotFound
		}
		return json.Unmarshal(data, &row)
	})
	return EncryptedPlan(row), err
}

// ListPlans returns all non-removed plans, sorted by category id.
func (s *Store) ListPlans() ([]EncryptedPlan, error) {
	var out []EncryptedPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		c := tx.Bucket(bucketPlansByCategory).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			id := idFromKey(k)
			data := b.Get(id[:])
			if data == nil {
				continue
			}
			var row planRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !row.Meta.Removed() {
				out = append(out, EncryptedPlan(row))
			}
		}
		return nil
	})
	return out, err
}

// ListPlansByCategory returns non-removed plans for categoryID.
func (s *Store) ListPlansByCategory(categoryID uuid.UUID) ([]EncryptedPlan, error) {
	var out []EncryptedPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		c := tx.Bucket(bucketPlansByCategory).Cursor()
		prefix := categoryID[:]
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			id := idFromKey(k)
			data := b.Get(id[:])
			if data == nil {
				continue
			}
			var row planRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !row.Meta.Removed() {
				out = append(out, EncryptedPlan(row))
			}
		}
		return nil
	})
	return out, err
}

func hasNonRemovedPlansForCategory(tx *bolt.Tx, categoryID uuid.UUID) (bool, error) {
	found := false
	b := tx.Bucket(bucketPlans)
	c := tx.Bucket(bucketPlansByCategory).Cursor()
	prefix := categoryID[:]
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		id := idFromKey(k)
		data := b.Get(id[:])
		if data == nil {
			continue
		}
		var row planRow
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

// PlansAddedSince returns plans created at or after since.
func (s *Store) PlansAddedSince(since int64) ([]EncryptedPlan, error) {
	return s.plansByTimeIndex(suffixCreatedAt, since, false)
}

// PlansChangedSince returns plans changed at or after since.
func (s *Store) PlansChangedSince(since int64) ([]EncryptedPlan, error) {
	return s.plansByTimeIndex(suffixChangedAt, since, false)
}

// PlansRemovedSince returns every plan (including tombstones) removed
// at or after since.
func (s *Store) PlansRemovedSince(since int64) ([]EncryptedPlan, error) {
	return s.plansByTimeIndex(suffixRemovedAt, since, true)
}

func (s *Store) plansByTimeIndex(suffix []byte, since int64, includeRemoved bool) ([]EncryptedPlan, error) {
	var out []EncryptedPlan
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlans)
		return scanSince(tx, bucketPlans, suffix, since, func(id uuid.UUID) error {
			data := b.Get(id[:])
			if data == nil {
				return nil
			}
			var row planRow
			if err := json.Unmarshal(data, &row); err != nil {
				return fmt.Errorf("%w: %w", err, types.ErrMalformed)
			}
			if !includeRemoved && row.Meta.Removed() {
				return nil
			}
			out = append(out, EncryptedPlan(row))
			return nil
		})
	})
	return out, err
}
