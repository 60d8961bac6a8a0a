package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

// Purge permanently deletes every row (in every entity kind) whose
// removed_at is set, along with all of its index entries, in one
// atomic bbolt transaction.
func (s *Store) Purge() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := purgeAccounts(tx); err != nil {
			return err
		}
		if err := purgeCategories(tx); err != nil {
			return err
		}
		if err := purgeTransactions(tx); err != nil {
			return err
		}
		return purgePlans(tx)
	})
}

// tombstonedIDs collects every row id currently in the <entity>_removed_at
// index, snapshotting them into a slice before any deletion so the
// caller's cursor never walks a bucket it is also mutating.
func tombstonedIDs(tx *bolt.Tx, entity []byte) []uuid.UUID {
	var ids []uuid.UUID
	c := tx.Bucket(timeIndexBucketName(entity, suffixRemovedAt)).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		ids = append(ids, idFromKey(k))
	}
	return ids
}

func purgeAccounts(tx *bolt.Tx) error {
	primary := tx.Bucket(bucketAccounts)
	removedIdx := tx.Bucket(timeIndexBucketName(bucketAccounts, suffixRemovedAt))
	for _, id := range tombstonedIDs(tx, bucketAccounts) {
		data := primary.Get(id[:])
		if data == nil {
			continue
		}
		var row accountRow
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if err := deleteTimeIndex(tx, bucketAccounts, suffixCreatedAt, &row.Meta.CreatedAt, id); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketAccounts, suffixChangedAt, row.Meta.ChangedAt, id); err != nil {
			return err
		}
		if err := removedIdx.Delete(timeKey(*row.Meta.RemovedAt, id)); err != nil {
			return err
		}
		if err := primary.Delete(id[:]); err != nil {
			return err
		}
	}
	return nil
}

func purgeCategories(tx *bolt.Tx) error {
	primary := tx.Bucket(bucketCategories)
	removedIdx := tx.Bucket(timeIndexBucketName(bucketCategories, suffixRemovedAt))
	byKind := tx.Bucket(bucketCategoriesByKind)
	for _, id := range tombstonedIDs(tx, bucketCategories) {
		data := primary.Get(id[:])
		if data == nil {
			continue
		}
		var row categoryRow
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if err := byKind.Delete(kindKey(row.Kind, id)); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketCategories, suffixCreatedAt, &row.Meta.CreatedAt, id); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketCategories, suffixChangedAt, row.Meta.ChangedAt, id); err != nil {
			return err
		}
		if err := removedIdx.Delete(timeKey(*row.Meta.RemovedAt, id)); err != nil {
			return err
		}
		if err := primary.Delete(id[:]); err != nil {
			return err
		}
	}
	return nil
}

func purgeTransactions(tx *bolt.Tx) error {
	primary := tx.Bucket(bucketTransactions)
	removedIdx := tx.Bucket(timeIndexBucketName(bucketTransactions, suffixRemovedAt))
	byPostedAt := tx.Bucket(bucketTransactionsByPostedAt)
	byAccount := tx.Bucket(bucketTransactionsByAccount)
	byCategory := tx.Bucket(bucketTransactionsByCategory)
	for _, id := range tombstonedIDs(tx, bucketTransactions) {
		data := primary.Get(id[:])
		if data == nil {
			continue
		}
		var row txRow
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if err := byPostedAt.Delete(timeKey(row.PostedAt, id)); err != nil {
			return err
		}
		if err := byAccount.Delete(prefixKey(row.AccountID[:], row.PostedAt, id)); err != nil {
			return err
		}
		if err := byCategory.Delete(prefixKey(row.CategoryID[:], row.PostedAt, id)); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketTransactions, suffixCreatedAt, &row.Meta.CreatedAt, id); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketTransactions, suffixChangedAt, row.Meta.ChangedAt, id); err != nil {
			return err
		}
		if err := removedIdx.Delete(timeKey(*row.Meta.RemovedAt, id)); err != nil {
			return err
		}
		if err := primary.Delete(id[:]); err != nil {
			return err
		}
	}
	return nil
}

func purgePlans(tx *bolt.Tx) error {
	primary := tx.Bucket(bucketPlans)
	removedIdx := tx.Bucket(timeIndexBucketName(bucketPlans, suffixRemovedAt))
	byCategory := tx.Bucket(bucketPlansByCategory)
	for _, id := range tombstonedIDs(tx, bucketPlans) {
		data := primary.Get(id[:])
		if data == nil {
			continue
		}
		var row planRow
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("%w: %w", err, types.ErrMalformed)
		}
		if err := byCategory.Delete(categoryIDKey(row.CategoryID, id)); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketPlans, suffixCreatedAt, &row.Meta.CreatedAt, id); err != nil {
			return err
		}
		if err := deleteTimeIndex(tx, bucketPlans, suffixChangedAt, row.Meta.ChangedAt, id); err != nil {
			return err
		}
		if err := removedIdx.Delete(timeKey(*row.Meta.RemovedAt, id)); err != nil {
			return err
		}
		if err := primary.Delete(id[:]); err != nil {
			return err
		}
	}
	return nil
}
