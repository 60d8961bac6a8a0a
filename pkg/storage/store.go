// Package storage implements bdgt's EncryptedStore: a bbolt-backed
// persistent store of the four entity kinds, holding already-encrypted
// field blobs plus the plaintext columns (ids, timestamps, foreign keys)
// needed for querying. See SPEC_FULL.md §4.3.
//
// Encryption itself is not this package's concern — callers (pkg/budget)
// encrypt and decrypt field values; storage only persists and indexes
// opaque byte blobs alongside provenance metadata.
package storage

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

var (
	bucketAccounts     = []byte("accounts")
	bucketCategories   = []byte("categories")
	bucketTransactions = []byte("transactions")
	bucketPlans        = []byte("plans")

	suffixCreatedAt = []byte("_created_at")
	suffixChangedAt = []byte("_changed_at")
	suffixRemovedAt = []byte("_removed_at")

	bucketCategoriesByKind           = []byte("categories_by_kind")
	bucketTransactionsByPostedAt     = []byte("transactions_by_posted_at")
	bucketTransactionsByAccount      = []byte("transactions_by_account_posted_at")
	bucketTransactionsByCategory     = []byte("transactions_by_category_posted_at")
	bucketPlansByCategory            = []byte("plans_by_category")
)

var allEntityBuckets = [][]byte{bucketAccounts, bucketCategories, bucketTransactions, bucketPlans}

// Store is bdgt's EncryptedStore, persisted as a single bbolt database
// file at <root>/database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the store at <root>/database and
// ensures every bucket this package needs exists.
func Open(root string) (*Store, error) {
	path := filepath.Join(root, "database")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w: %w", err, types.ErrIO)
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range allEntityBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
			for _, suffix := range [][]byte{suffixCreatedAt, suffixChangedAt, suffixRemovedAt} {
				if _, err := tx.CreateBucketIfNotExists(append(append([]byte{}, b...), suffix...)); err != nil {
					return err
				}
			}
		}
		for _, b := range [][]byte{
			bucketCategoriesByKind,
			bucketTransactionsByPostedAt,
			bucketTransactionsByAccount,
			bucketTransactionsByCategory,
			bucketPlansByCategory,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w: %w", err, types.ErrIO)
	}
	return s, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}
