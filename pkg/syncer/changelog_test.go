package syncer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

func TestChangelogEncodeDecodeRoundTrip(t *testing.T) {
	changedAt := int64(200)
	c := Changelog{
		Accounts: AccountDelta{
			Added: []types.Account{
				{ID: uuid.New(), Name: "Checking", Balance: 100, InitialBalance: 100, Meta: types.Meta{Origin: uuid.New(), CreatedAt: 100}},
			},
		},
		Categories: CategoryDelta{
			Added: []types.Category{
				{ID: uuid.New(), Name: "Groceries", Kind: types.Outcome, Meta: types.Meta{Origin: uuid.New(), CreatedAt: 100, ChangedAt: &changedAt}},
			},
		},
		Transactions: TransactionDelta{
			Added: []types.Transaction{
				{ID: uuid.New(), PostedAt: 150, Description: "milk", AccountID: uuid.New(), CategoryID: uuid.New(), Amount: -5, Meta: types.Meta{Origin: uuid.New(), CreatedAt: 150}},
			},
		},
		Plans: PlanDelta{
			Added: []types.Plan{
				{ID: uuid.New(), CategoryID: uuid.New(), Name: "monthly groceries", AmountLimit: 30000, Meta: types.Meta{Origin: uuid.New(), CreatedAt: 100}},
			},
		},
	}

	encoded, err := encodeChangelog(c)
	require.NoError(t, err)

	decoded, err := decodeChangelog(encoded)
	require.NoError(t, err)

	if diff := cmp.Diff(c, decoded); diff != "" {
		t.Fatalf("changelog round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestChangelogMergeConcatenates(t *testing.T) {
	a := Changelog{Accounts: AccountDelta{Added: []types.Account{{Name: "A"}}}}
	b := Changelog{Accounts: AccountDelta{Added: []types.Account{{Name: "B"}}}}

	merged := a.merge(b)
	require.Len(t, merged.Accounts.Added, 2)
	require.Equal(t, "A", merged.Accounts.Added[0].Name)
	require.Equal(t, "B", merged.Accounts.Added[1].Name)
}

func TestChangelogEmpty(t *testing.T) {
	require.True(t, Changelog{}.Empty())
	require.False(t, Changelog{Accounts: AccountDelta{Added: []types.Account{{}}}}.Empty())
}
