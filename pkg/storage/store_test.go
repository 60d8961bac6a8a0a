package storage_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bdgt-sh/bdgt/pkg/storage"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func metaAt(ts int64) types.Meta {
	return types.Meta{Origin: uuid.New(), CreatedAt: ts}
}

func TestAddAccountAssignsID(t *testing.T) {
	s := openTestStore(t)
	row, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, row.ID)

	got, err := s.GetAccount(row.ID)
	require.NoError(t, err)
	require.Equal(t, row, got)
}

func TestListAccountsExcludesTombstones(t *testing.T) {
	s := openTestStore(t)
	a, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	b, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(200)})
	require.NoError(t, err)

	require.NoError(t, s.RemoveAccount(a.ID, 300))

	list, err := s.ListAccounts()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, b.ID, list[0].ID)
}

func TestRemoveAccountConsistencyViolation(t *testing.T) {
	s := openTestStore(t)
	acct, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	cat, err := s.AddCategory(storage.EncryptedCategory{ID: uuid.New(), Kind: types.Outcome, Meta: metaAt(100)})
	require.NoError(t, err)
	_, err = s.AddTransaction(storage.EncryptedTransaction{
		PostedAt:   150,
		AccountID:  acct.ID,
		CategoryID: cat.ID,
		Meta:       metaAt(150),
	})
	require.NoError(t, err)

	err = s.RemoveAccount(acct.ID, 200)
	require.ErrorIs(t, err, types.ErrConsistencyViolation)
}

func TestRemoveAccountAllowedOnceTransactionsRemoved(t *testing.T) {
	s := openTestStore(t)
	acct, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	cat, err := s.AddCategory(storage.EncryptedCategory{ID: uuid.New(), Kind: types.Outcome, Meta: metaAt(100)})
	require.NoError(t, err)
	tx, err := s.AddTransaction(storage.EncryptedTransaction{
		PostedAt:   150,
		AccountID:  acct.ID,
		CategoryID: cat.ID,
		Meta:       metaAt(150),
	})
	require.NoError(t, err)
	require.NoError(t, s.RemoveTransaction(tx.ID, 160))

	require.NoError(t, s.RemoveAccount(acct.ID, 200))
}

func TestPredefinedCategoryCannotBeRemoved(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddCategory(storage.EncryptedCategory{ID: types.TransferIncomeID, Kind: types.Income, Meta: metaAt(0)})
	require.NoError(t, err)

	err = s.RemoveCategory(types.TransferIncomeID, 100)
	require.ErrorIs(t, err, types.ErrCannotDeletePredefined)
}

func TestPredefinedCategoryCannotBeModified(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddCategory(storage.EncryptedCategory{ID: types.TransferOutcomeID, Kind: types.Outcome, Meta: metaAt(0)})
	require.NoError(t, err)

	err = s.UpdateCategory(storage.EncryptedCategory{ID: types.TransferOutcomeID, Kind: types.Outcome, NameCT: []byte("x"), Meta: metaAt(0)})
	require.ErrorIs(t, err, types.ErrCannotModifyPredefined)
}

func TestRemoveCategoryConsistencyViolationForPlan(t *testing.T) {
	s := openTestStore(t)
	cat, err := s.AddCategory(storage.EncryptedCategory{ID: uuid.New(), Kind: types.Outcome, Meta: metaAt(100)})
	require.NoError(t, err)
	_, err = s.AddPlan(storage.EncryptedPlan{CategoryID: cat.ID, Meta: metaAt(100)})
	require.NoError(t, err)

	err = s.RemoveCategory(cat.ID, 200)
	require.ErrorIs(t, err, types.ErrConsistencyViolation)
}

func TestListTransactionsByAccountOrderedDescending(t *testing.T) {
	s := openTestStore(t)
	acct, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	cat, err := s.AddCategory(storage.EncryptedCategory{ID: uuid.New(), Kind: types.Outcome, Meta: metaAt(100)})
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, ts := range []int64{100, 300, 200} {
		tx, err := s.AddTransaction(storage.EncryptedTransaction{
			PostedAt:   ts,
			AccountID:  acct.ID,
			CategoryID: cat.ID,
			Meta:       metaAt(ts),
		})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}

	list, err := s.ListTransactions(storage.TransactionFilter{AccountID: &acct.ID})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []int64{300, 200, 100}, []int64{list[0].PostedAt, list[1].PostedAt, list[2].PostedAt})
}

func TestTransactionsAddedSince(t *testing.T) {
	s := openTestStore(t)
	acct, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	cat, err := s.AddCategory(storage.EncryptedCategory{ID: uuid.New(), Kind: types.Outcome, Meta: metaAt(100)})
	require.NoError(t, err)

	_, err = s.AddTransaction(storage.EncryptedTransaction{PostedAt: 100, AccountID: acct.ID, CategoryID: cat.ID, Meta: metaAt(100)})
	require.NoError(t, err)
	later, err := s.AddTransaction(storage.EncryptedTransaction{PostedAt: 200, AccountID: acct.ID, CategoryID: cat.ID, Meta: metaAt(200)})
	require.NoError(t, err)

	rows, err := s.TransactionsAddedSince(150)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, later.ID, rows[0].ID)
}

func TestPurgeRemovesTombstonesAcrossAllEntities(t *testing.T) {
	s := openTestStore(t)
	acct, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)
	cat, err := s.AddCategory(storage.EncryptedCategory{ID: uuid.New(), Kind: types.Outcome, Meta: metaAt(100)})
	require.NoError(t, err)
	plan, err := s.AddPlan(storage.EncryptedPlan{CategoryID: cat.ID, Meta: metaAt(100)})
	require.NoError(t, err)
	tx, err := s.AddTransaction(storage.EncryptedTransaction{PostedAt: 150, AccountID: acct.ID, CategoryID: cat.ID, Meta: metaAt(150)})
	require.NoError(t, err)

	require.NoError(t, s.RemoveTransaction(tx.ID, 160))
	require.NoError(t, s.RemovePlan(plan.ID, 160))
	require.NoError(t, s.RemoveCategory(cat.ID, 160))
	require.NoError(t, s.RemoveAccount(acct.ID, 160))

	require.NoError(t, s.Purge())

	_, err = s.GetAccount(acct.ID)
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.GetCategory(cat.ID)
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.GetPlan(plan.ID)
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.GetTransaction(tx.ID)
	require.ErrorIs(t, err, types.ErrNotFound)

	rows, err := s.AccountsRemovedSince(0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestPurgeLeavesLiveRowsIntact(t *testing.T) {
	s := openTestStore(t)
	acct, err := s.AddAccount(storage.EncryptedAccount{Meta: metaAt(100)})
	require.NoError(t, err)

	require.NoError(t, s.Purge())

	got, err := s.GetAccount(acct.ID)
	require.NoError(t, err)
	require.Equal(t, acct.ID, got.ID)
}
