package budget_test

import (
	"context"
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

const syncAuth = "correct horse battery staple"

// openTestBudgetOnTransport is openTestBudget, but takes an
// already-constructed transport so two instances can share one remote.
func openTestBudgetOnTransport(t *testing.T, transport *localtransport.Transport) *budget.Budget {
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

	// Unlike openTestBudget, this uses the real clock (nil -> RealClock):
	// the Coordinator always stamps its sync epoch with RealClock, and
	// entity timestamps must be comparable against it across sync
	// cycles, so a tiny fake clock would make later rows look
	// older-than-last-sync and get silently dropped by ExportSince.
	b, err := budget.Open(root, engine, store, cfg, transport, nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize())
	return b
}

// Scenario E — two-instance convergence (spec.md §8). Instance 1 adds an
// account and a transaction, syncs; instance 2, sharing the same remote,
// syncs and must observe the same account with the same balance.
func TestScenarioETwoInstanceConvergence(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()

	transport1 := localtransport.New()
	require.NoError(t, transport1.SetRemote(ctx, remoteDir))
	b1 := openTestBudgetOnTransport(t, transport1)

	a1, err := b1.AddAccount("Checking", 1000)
	require.NoError(t, err)
	c1, err := b1.AddCategory("Income", types.Income)
	require.NoError(t, err)
	_, err = b1.AddTransaction(a1.ID, c1.ID, 250, "salary", 2000)
	require.NoError(t, err)

	require.NoError(t, b1.PerformSync(ctx, syncAuth))

	transport2 := localtransport.New()
	require.NoError(t, transport2.SetRemote(ctx, remoteDir))
	b2 := openTestBudgetOnTransport(t, transport2)

	require.NoError(t, b2.PerformSync(ctx, syncAuth))

	accounts, err := b2.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, a1.ID, accounts[0].ID)
	require.Equal(t, "Checking", accounts[0].Name)
	require.Equal(t, int64(1250), accounts[0].Balance)

	txs, err := b2.Transactions(storage.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, int64(250), txs[0].Amount)

	// Instance 2 adds its own transaction and syncs back; instance 1
	// pulls it and converges to the same final balance.
	_, err = b2.AddTransaction(a1.ID, c1.ID, -100, "groceries", 2100)
	require.NoError(t, err)
	require.NoError(t, b2.PerformSync(ctx, syncAuth))

	require.NoError(t, b1.PerformSync(ctx, syncAuth))
	balance1, err := b1.AccountBalance(a1.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1150), balance1)

	balance2, err := b2.AccountBalance(a1.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1150), balance2)
}

// Merging the same remote changelog twice must not double-apply it: a
// second PerformSync with nothing new on either side is a no-op.
func TestSyncIdempotentOnRepeatedSync(t *testing.T) {
	ctx := context.Background()
	remoteDir := t.TempDir()

	transport1 := localtransport.New()
	require.NoError(t, transport1.SetRemote(ctx, remoteDir))
	b1 := openTestBudgetOnTransport(t, transport1)

	_, err := b1.AddAccount("Checking", 500)
	require.NoError(t, err)
	require.NoError(t, b1.PerformSync(ctx, syncAuth))
	require.NoError(t, b1.PerformSync(ctx, syncAuth))

	accounts, err := b1.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, int64(500), accounts[0].Balance)
}
