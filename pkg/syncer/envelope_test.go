package syncer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bdgt-sh/bdgt/pkg/crypto"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

// Scenario D (spec.md §8): a changelog encrypted under a password-derived
// key round-trips under the same password/timestamp/instance salt, and
// fails closed under the wrong password.
func TestEnvelopeEncryptDecryptRoundTrip(t *testing.T) {
	engine := crypto.NewDummy()

	c := Changelog{
		Accounts: AccountDelta{Added: []types.Account{
			{ID: uuid.New(), Name: "A", Balance: 100, InitialBalance: 100},
			{ID: uuid.New(), Name: "B", Balance: 200, InitialBalance: 200},
			{ID: uuid.New(), Name: "C", Balance: 300, InitialBalance: 300},
		}},
		Categories: CategoryDelta{Added: []types.Category{
			{ID: uuid.New(), Name: "Food", Kind: types.Outcome},
			{ID: uuid.New(), Name: "Salary", Kind: types.Income},
		}},
		Plans: PlanDelta{Added: []types.Plan{
			{ID: uuid.New(), Name: "monthly food budget", AmountLimit: 50000},
		}},
	}
	for i := 0; i < 5; i++ {
		c.Transactions.Added = append(c.Transactions.Added, types.Transaction{
			ID: uuid.New(), PostedAt: int64(1000 + i), Description: "tx", Amount: int64(i * 10),
		})
	}

	tsBytes := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	instance := uuid.New()
	salt := envelopeSalt(tsBytes, instance[:])

	key, err := crypto.DeriveKey([]byte("p"), salt, engine.SymmetricKeyLength())
	require.NoError(t, err)
	defer key.Release()

	plain, err := encodeChangelog(c)
	require.NoError(t, err)

	ciphertext, err := engine.EncryptSymmetric(key.Bytes(), plain)
	require.NoError(t, err)
	defer ciphertext.Release()

	decryptKey, err := crypto.DeriveKey([]byte("p"), salt, engine.SymmetricKeyLength())
	require.NoError(t, err)
	defer decryptKey.Release()

	decryptedPlain, err := engine.DecryptSymmetric(decryptKey.Bytes(), ciphertext.Bytes())
	require.NoError(t, err)
	defer decryptedPlain.Release()

	decoded, err := decodeChangelog(decryptedPlain.Bytes())
	require.NoError(t, err)
	if diff := cmp.Diff(c, decoded); diff != "" {
		t.Fatalf("changelog mismatch after envelope round-trip (-want +got):\n%s", diff)
	}

	wrongKey, err := crypto.DeriveKey([]byte("wrong password"), salt, engine.SymmetricKeyLength())
	require.NoError(t, err)
	defer wrongKey.Release()

	_, err = engine.DecryptSymmetric(wrongKey.Bytes(), ciphertext.Bytes())
	require.ErrorIs(t, err, types.ErrDecryption)
}
