package storage

import (
	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

// EncryptedAccount is an Account with its sensitive fields already
// AEAD-encrypted by the caller (pkg/budget); storage persists the
// ciphertext blobs verbatim.
type EncryptedAccount struct {
	ID               uuid.UUID
	NameCT           []byte
	BalanceCT        []byte
	InitialBalanceCT []byte
	Meta             types.Meta
}

// EncryptedCategory is a Category with its Name already encrypted. Kind
// is plaintext (it is needed for by-kind queries and is not considered
// sensitive).
type EncryptedCategory struct {
	ID     uuid.UUID
	NameCT []byte
	Kind   types.CategoryKind
	Meta   types.Meta
}

// EncryptedTransaction is a Transaction with Description and Amount
// already encrypted. PostedAt, AccountID, and CategoryID are plaintext
// (range queries and referential checks need them in the clear).
type EncryptedTransaction struct {
	ID            uuid.UUID
	PostedAt      int64
	DescriptionCT []byte
	AccountID     uuid.UUID
	CategoryID    uuid.UUID
	AmountCT      []byte
	Meta          types.Meta
}

// EncryptedPlan is a Plan with Name and AmountLimit already encrypted.
type EncryptedPlan struct {
	ID          uuid.UUID
	CategoryID  uuid.UUID
	NameCT      []byte
	AmountLimitCT []byte
	Meta        types.Meta
}
