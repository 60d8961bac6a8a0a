package budget_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bdgt-sh/bdgt/pkg/budget"
	"github.com/bdgt-sh/bdgt/pkg/config"
	"github.com/bdgt-sh/bdgt/pkg/crypto"
	"github.com/bdgt-sh/bdgt/pkg/crypto/providertest"
	"github.com/bdgt-sh/bdgt/pkg/storage"
	"github.com/bdgt-sh/bdgt/pkg/syncer/localtransport"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

// fakeClock returns strictly increasing timestamps, one per call, so
// tests get deterministic, distinct meta.created_at/removed_at values.
func fakeClock() types.Clock {
	t := int64(1000)
	return func() int64 {
		t++
		return t
	}
}

func openTestBudget(t *testing.T) (*budget.Budget, *storage.Store) {
	t.Helper()
	root := t.TempDir()

	provider := providertest.New()
	_, err := provider.AddKey("user@example.com")
	require.NoError(t, err)

	engine := crypto.New(provider)
	key, err := engine.LookupKey("user@example.com")
	require.NoError(t, err)
	require.NoError(t, engine.Create(root, key))

	store, err := storage.Open(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg, err := config.Create(root, "user@example.com", uuid.New())
	require.NoError(t, err)

	b, err := budget.Open(root, engine, store, cfg, localtransport.New(), fakeClock())
	require.NoError(t, err)
	require.NoError(t, b.Initialize())
	return b, store
}

// Scenario A — balance correctness (spec.md §8).
func TestScenarioABalanceCorrectness(t *testing.T) {
	b, _ := openTestBudget(t)

	a, err := b.AddAccount("A", 1000)
	require.NoError(t, err)
	c1, err := b.AddCategory("Income", types.Income)
	require.NoError(t, err)
	c2, err := b.AddCategory("Outcome", types.Outcome)
	require.NoError(t, err)

	_, err = b.AddTransaction(a.ID, c1.ID, 250, "salary", 2000)
	require.NoError(t, err)
	tx2, err := b.AddTransaction(a.ID, c2.ID, -100, "groceries", 2001)
	require.NoError(t, err)

	accounts, err := b.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, int64(1150), accounts[0].Balance)

	require.NoError(t, b.RemoveTransaction(tx2.ID, false, 3000))

	balance, err := b.AccountBalance(a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1250), balance)
}

// Scenario B — transfer pair (spec.md §8).
func TestScenarioBTransferPair(t *testing.T) {
	b, _ := openTestBudget(t)

	a, err := b.AddAccount("A", 1000)
	require.NoError(t, err)
	acc2, err := b.AddAccount("B", 500)
	require.NoError(t, err)

	const transferTime = int64(5000)
	outcomeLeg, incomeLeg, err := b.AddTransfer(300, a.ID, acc2.ID, transferTime)
	require.NoError(t, err)

	require.Equal(t, transferTime, outcomeLeg.PostedAt)
	require.Equal(t, transferTime, incomeLeg.PostedAt)
	require.Equal(t, types.TransferOutcomeID, outcomeLeg.CategoryID)
	require.Equal(t, int64(-300), outcomeLeg.Amount)
	require.Equal(t, types.TransferIncomeID, incomeLeg.CategoryID)
	require.Equal(t, int64(300), incomeLeg.Amount)

	balA, err := b.AccountBalance(a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(700), balA)
	balB, err := b.AccountBalance(acc2.ID)
	require.NoError(t, err)
	require.Equal(t, int64(800), balB)
}

// Scenario C — referential integrity (spec.md §8).
func TestScenarioCReferentialIntegrity(t *testing.T) {
	b, _ := openTestBudget(t)

	a, err := b.AddAccount("A", 1000)
	require.NoError(t, err)
	c1, err := b.AddCategory("Outcome", types.Outcome)
	require.NoError(t, err)
	tx, err := b.AddTransaction(a.ID, c1.ID, -50, "rent", 2000)
	require.NoError(t, err)

	err = b.RemoveAccount(a.ID, false, 3000)
	require.ErrorIs(t, err, types.ErrConsistencyViolation)

	require.NoError(t, b.RemoveAccount(a.ID, true, 3000))

	txs, err := b.Transactions(storage.TransactionFilter{AccountID: &a.ID, IncludeRemoved: true})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, tx.ID, txs[0].ID)
	require.NotNil(t, txs[0].Meta.RemovedAt)
	require.Equal(t, int64(3000), *txs[0].Meta.RemovedAt)
}

// Scenario F — emergency recovery (spec.md §8).
func TestScenarioFEmergencyRecovery(t *testing.T) {
	b, store := openTestBudget(t)

	a, err := b.AddAccount("A", 1000)
	require.NoError(t, err)
	c1, err := b.AddCategory("Outcome", types.Outcome)
	require.NoError(t, err)

	// Simulate a crash between AddTransaction's steps 4 and 5: insert
	// the transaction row directly via storage, skipping the balance
	// update AddTransaction would normally perform.
	txRow, err := store.AddTransaction(storage.EncryptedTransaction{
		PostedAt:   2000,
		AccountID:  a.ID,
		CategoryID: c1.ID,
		Meta:       types.Meta{Origin: uuid.New(), CreatedAt: 2000},
	})
	require.NoError(t, err)

	balanceBefore, err := b.AccountBalance(a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), balanceBefore)

	require.NoError(t, b.RemoveTransaction(txRow.ID, true, 3000))

	balanceAfter, err := b.AccountBalance(a.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1000), balanceAfter)
}
