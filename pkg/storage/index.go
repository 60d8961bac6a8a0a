package storage

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"
)

// timeKey builds the sortable composite key used by every temporal
// index: an 8-byte big-endian timestamp followed by the row id, so a
// bucket Cursor walks entries in timestamp order and ids break ties.
// Every timestamp bdgt stores is a non-negative Unix-seconds value, so
// the plain big-endian encoding of the int64 bit pattern sorts
// correctly; there is no epoch before 1970 to worry about.
func timeKey(ts int64, id uuid.UUID) []byte {
	key := make([]byte, 8+16)
	binary.BigEndian.PutUint64(key[:8], uint64(ts))
	copy(key[8:], id[:])
	return key
}

// prefixKey builds a composite key of an arbitrary byte prefix followed
// by a timeKey, used for the account/category-scoped transaction
// indexes.
func prefixKey(prefix []byte, ts int64, id uuid.UUID) []byte {
	key := make([]byte, len(prefix)+8+16)
	n := copy(key, prefix)
	binary.BigEndian.PutUint64(key[n:n+8], uint64(ts))
	copy(key[n+8:], id[:])
	return key
}

// idFromKey extracts the trailing 16-byte row id from a composite key
// built by timeKey or prefixKey.
func idFromKey(key []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], key[len(key)-16:])
	return id
}

func timeIndexBucketName(entity []byte, suffix []byte) []byte {
	return append(append([]byte{}, entity...), suffix...)
}

// putTimeIndex inserts id into the <entity><suffix> bucket at ts, if ts
// is non-nil.
func putTimeIndex(tx *bolt.Tx, entity, suffix []byte, ts *int64, id uuid.UUID) error {
	if ts == nil {
		return nil
	}
	b := tx.Bucket(timeIndexBucketName(entity, suffix))
	return b.Put(timeKey(*ts, id), []byte{})
}

// deleteTimeIndex removes id's entry from the <entity><suffix> bucket
// at ts, if ts is non-nil.
func deleteTimeIndex(tx *bolt.Tx, entity, suffix []byte, ts *int64, id uuid.UUID) error {
	if ts == nil {
		return nil
	}
	b := tx.Bucket(timeIndexBucketName(entity, suffix))
	return b.Delete(timeKey(*ts, id))
}

// scanSince walks the <entity><suffix> time index for every entry whose
// timestamp is >= since, invoking fn with each row id in timestamp
// order.
func scanSince(tx *bolt.Tx, entity, suffix []byte, since int64, fn func(id uuid.UUID) error) error {
	b := tx.Bucket(timeIndexBucketName(entity, suffix))
	c := b.Cursor()
	seek := make([]byte, 8)
	binary.BigEndian.PutUint64(seek, uint64(since))
	for k, _ := c.Seek(seek); k != nil; k, _ = c.Next() {
		if err := fn(idFromKey(k)); err != nil {
			return err
		}
	}
	return nil
}
