// Package budget implements bdgt's core domain façade: it decrypts on
// read, encrypts on write, maintains the account-balance invariant, and
// owns the initialization of the two predefined transfer categories.
// See SPEC_FULL.md §4.4.
package budget

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/config"
	"github.com/bdgt-sh/bdgt/pkg/crypto"
	"github.com/bdgt-sh/bdgt/pkg/log"
	"github.com/bdgt-sh/bdgt/pkg/storage"
	"github.com/bdgt-sh/bdgt/pkg/syncer"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

// Budget is bdgt's core façade. It holds references to every leaf
// component (mirroring the teacher's practice of assembling a manager
// from its store/crypto/coordinator/config dependencies in one
// constructor) and exposes plaintext-facing CRUD.
type Budget struct {
	engine *crypto.Engine
	key    crypto.KeyHandle
	store  *storage.Store
	sync   *syncer.Coordinator
	cfg    config.Config
	clock  types.Clock
}

// Open constructs a Budget over an already-open engine and store, looking
// up the user's key (failing closed if absent or unsuitable). root is the
// same data directory the engine/store were opened against; transport is
// wired into a syncer.Coordinator using this Budget as the entity codec.
// clock defaults to types.RealClock if nil.
func Open(root string, engine *crypto.Engine, store *storage.Store, cfg config.Config, transport syncer.ArtifactTransport, clock types.Clock) (*Budget, error) {
	if clock == nil {
		clock = types.RealClock
	}
	key, err := engine.LookupKey(cfg.KeyID)
	if err != nil {
		return nil, err
	}
	b := &Budget{engine: engine, key: key, store: store, cfg: cfg, clock: clock}
	b.sync = syncer.New(engine, transport, b, cfg.InstanceID, root)
	return b, nil
}

func (b *Budget) encryptBytes(plain []byte) ([]byte, error) {
	sb, err := b.engine.Encrypt(b.key, plain)
	if err != nil {
		return nil, err
	}
	defer sb.Release()
	out := make([]byte, sb.Len())
	copy(out, sb.Bytes())
	return out, nil
}

func (b *Budget) decryptBytes(ct []byte) ([]byte, error) {
	sb, err := b.engine.Decrypt(b.key, ct)
	if err != nil {
		return nil, err
	}
	defer sb.Release()
	out := make([]byte, sb.Len())
	copy(out, sb.Bytes())
	return out, nil
}

func (b *Budget) encryptString(s string) ([]byte, error) {
	return b.encryptBytes(encodeString(s))
}

func (b *Budget) decryptStringField(ct []byte) (string, error) {
	plain, err := b.decryptBytes(ct)
	if err != nil {
		return "", err
	}
	return decodeString(plain), nil
}

func (b *Budget) encryptAmount(v int64) ([]byte, error) {
	return b.encryptBytes(encodeInt64(v))
}

func (b *Budget) decryptAmount(ct []byte) (int64, error) {
	plain, err := b.decryptBytes(ct)
	if err != nil {
		return 0, err
	}
	return decodeInt64(plain)
}

// Initialize inserts the two predefined transfer categories, exactly
// once for a fresh store. Both carry origin = this instance and
// created_at = epoch-zero so no peer ever re-merges them.
func (b *Budget) Initialize() error {
	zero := int64(0)
	for _, row := range []struct {
		id   uuid.UUID
		kind types.CategoryKind
	}{
		{types.TransferIncomeID, types.Income},
		{types.TransferOutcomeID, types.Outcome},
	} {
		nameCT, err := b.encryptString(transferCategoryName(row.kind))
		if err != nil {
			return err
		}
		_, err = b.store.AddCategory(storage.EncryptedCategory{
			ID:     row.id,
			NameCT: nameCT,
			Kind:   row.kind,
			Meta:   types.Meta{Origin: b.cfg.InstanceID, CreatedAt: zero},
		})
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}
	return nil
}

func transferCategoryName(kind types.CategoryKind) string {
	if kind == types.Income {
		return "Transfer (in)"
	}
	return "Transfer (out)"
}

func (b *Budget) decryptAccount(row storage.EncryptedAccount) (types.Account, error) {
	name, err := b.decryptStringField(row.NameCT)
	if err != nil {
		return types.Account{}, err
	}
	balance, err := b.decryptAmount(row.BalanceCT)
	if err != nil {
		return types.Account{}, err
	}
	initial, err := b.decryptAmount(row.InitialBalanceCT)
	if err != nil {
		return types.Account{}, err
	}
	return types.Account{ID: row.ID, Name: name, Balance: balance, InitialBalance: initial, Meta: row.Meta}, nil
}

// AddAccount inserts a new account with balance initialized to
// initial_balance.
func (b *Budget) AddAccount(name string, initialBalance int64) (types.Account, error) {
	nameCT, err := b.encryptString(name)
	if err != nil {
		return types.Account{}, err
	}
	balCT, err := b.encryptAmount(initialBalance)
	if err != nil {
		return types.Account{}, err
	}
	initCT, err := b.encryptAmount(initialBalance)
	if err != nil {
		return types.Account{}, err
	}
	row, err := b.store.AddAccount(storage.EncryptedAccount{
		NameCT:           nameCT,
		BalanceCT:        balCT,
		InitialBalanceCT: initCT,
		Meta:             types.Meta{Origin: b.cfg.InstanceID, CreatedAt: b.clock()},
	})
	if err != nil {
		return types.Account{}, err
	}
	return b.decryptAccount(row)
}

// RenameAccount overwrites an account's name only.
func (b *Budget) RenameAccount(id uuid.UUID, name string) error {
	existing, err := b.store.GetAccount(id)
	if err != nil {
		return err
	}
	nameCT, err := b.encryptString(name)
	if err != nil {
		return err
	}
	existing.NameCT = nameCT
	return b.store.UpdateAccount(existing)
}

// RemoveAccount logically deletes account id at ts. If force is true,
// every non-removed transaction referencing id is cascade-removed at the
// same ts first; otherwise a non-empty account fails with
// ErrConsistencyViolation.
func (b *Budget) RemoveAccount(id uuid.UUID, force bool, ts int64) error {
	if force {
		txs, err := b.store.ListTransactions(storage.TransactionFilter{AccountID: &id})
		if err != nil {
			return err
		}
		for _, tx := range txs {
			if err := b.RemoveTransaction(tx.ID, false, ts); err != nil {
				return err
			}
		}
	}
	return b.store.RemoveAccount(id, ts)
}

// Accounts returns every non-removed account, decrypted.
func (b *Budget) Accounts() ([]types.Account, error) {
	rows, err := b.store.ListAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]types.Account, len(rows))
	for i, row := range rows {
		a, err := b.decryptAccount(row)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// AccountBalance decrypts and returns a single account's balance field,
// for callers that don't need name/initial_balance too.
func (b *Budget) AccountBalance(id uuid.UUID) (int64, error) {
	row, err := b.store.GetAccount(id)
	if err != nil {
		return 0, err
	}
	return b.decryptAmount(row.BalanceCT)
}

func (b *Budget) decryptCategory(row storage.EncryptedCategory) (types.Category, error) {
	name, err := b.decryptStringField(row.NameCT)
	if err != nil {
		return types.Category{}, err
	}
	return types.Category{ID: row.ID, Name: name, Kind: row.Kind, Meta: row.Meta}, nil
}

// AddCategory inserts a new user category. Unlike the store's AddCategory,
// the Budget always supplies an explicit fresh id, since uuid.Nil is the
// reserved TransferIncomeID rather than an "absent id" sentinel.
func (b *Budget) AddCategory(name string, kind types.CategoryKind) (types.Category, error) {
	nameCT, err := b.encryptString(name)
	if err != nil {
		return types.Category{}, err
	}
	row, err := b.store.AddCategory(storage.EncryptedCategory{
		ID:     uuid.New(),
		NameCT: nameCT,
		Kind:   kind,
		Meta:   types.Meta{Origin: b.cfg.InstanceID, CreatedAt: b.clock()},
	})
	if err != nil {
		return types.Category{}, err
	}
	return b.decryptCategory(row)
}

// RenameCategory overwrites a category's name only.
func (b *Budget) RenameCategory(id uuid.UUID, name string) error {
	existing, err := b.store.GetCategory(id)
	if err != nil {
		return err
	}
	nameCT, err := b.encryptString(name)
	if err != nil {
		return err
	}
	existing.NameCT = nameCT
	return b.store.UpdateCategory(existing)
}

// RemoveCategory logically deletes category id at ts, delegating the
// predefined-id and referential-integrity checks to the store.
func (b *Budget) RemoveCategory(id uuid.UUID, ts int64) error {
	return b.store.RemoveCategory(id, ts)
}

// Categories returns every non-removed category, decrypted.
func (b *Budget) Categories() ([]types.Category, error) {
	rows, err := b.store.ListCategories()
	if err != nil {
		return nil, err
	}
	out := make([]types.Category, len(rows))
	for i, row := range rows {
		c, err := b.decryptCategory(row)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (b *Budget) decryptPlan(row storage.EncryptedPlan) (types.Plan, error) {
	name, err := b.decryptStringField(row.NameCT)
	if err != nil {
		return types.Plan{}, err
	}
	limit, err := b.decryptAmount(row.AmountLimitCT)
	if err != nil {
		return types.Plan{}, err
	}
	return types.Plan{ID: row.ID, CategoryID: row.CategoryID, Name: name, AmountLimit: limit, Meta: row.Meta}, nil
}

// AddPlan inserts a new category-scoped budget limit.
func (b *Budget) AddPlan(categoryID uuid.UUID, name string, amountLimit int64) (types.Plan, error) {
	nameCT, err := b.encryptString(name)
	if err != nil {
		return types.Plan{}, err
	}
	limitCT, err := b.encryptAmount(amountLimit)
	if err != nil {
		return types.Plan{}, err
	}
	row, err := b.store.AddPlan(storage.EncryptedPlan{
		CategoryID:    categoryID,
		NameCT:        nameCT,
		AmountLimitCT: limitCT,
		Meta:          types.Meta{Origin: b.cfg.InstanceID, CreatedAt: b.clock()},
	})
	if err != nil {
		return types.Plan{}, err
	}
	return b.decryptPlan(row)
}

// RenamePlan overwrites a plan's name only.
func (b *Budget) RenamePlan(id uuid.UUID, name string) error {
	existing, err := b.store.GetPlan(id)
	if err != nil {
		return err
	}
	nameCT, err := b.encryptString(name)
	if err != nil {
		return err
	}
	existing.NameCT = nameCT
	return b.store.UpdatePlan(existing)
}

// RemovePlan logically deletes plan id at ts.
func (b *Budget) RemovePlan(id uuid.UUID, ts int64) error {
	return b.store.RemovePlan(id, ts)
}

// Plans returns every non-removed plan, decrypted.
func (b *Budget) Plans() ([]types.Plan, error) {
	rows, err := b.store.ListPlans()
	if err != nil {
		return nil, err
	}
	out := make([]types.Plan, len(rows))
	for i, row := range rows {
		p, err := b.decryptPlan(row)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (b *Budget) decryptTransaction(row storage.EncryptedTransaction) (types.Transaction, error) {
	desc, err := b.decryptStringField(row.DescriptionCT)
	if err != nil {
		return types.Transaction{}, err
	}
	amount, err := b.decryptAmount(row.AmountCT)
	if err != nil {
		return types.Transaction{}, err
	}
	return types.Transaction{
		ID: row.ID, PostedAt: row.PostedAt, Description: desc,
		AccountID: row.AccountID, CategoryID: row.CategoryID,
		Amount: amount, Meta: row.Meta,
	}, nil
}

// AddTransaction performs the 5-step sequence from SPEC_FULL.md §4.4:
// read the account, decrypt its balance, compute the new balance,
// insert the encrypted transaction, then update the account with the
// new encrypted balance. Steps 4-5 are NOT wrapped in one store
// transaction; a crash between them leaves a transaction row with a
// stale account balance, recoverable via RemoveTransaction(id,
// emergency=true, ts).
func (b *Budget) AddTransaction(accountID, categoryID uuid.UUID, amount int64, description string, postedAt int64) (types.Transaction, error) {
	account, err := b.store.GetAccount(accountID)
	if err != nil {
		return types.Transaction{}, err
	}
	balance, err := b.decryptAmount(account.BalanceCT)
	if err != nil {
		return types.Transaction{}, err
	}
	newBalance := balance + amount

	descCT, err := b.encryptString(description)
	if err != nil {
		return types.Transaction{}, err
	}
	amountCT, err := b.encryptAmount(amount)
	if err != nil {
		return types.Transaction{}, err
	}
	row, err := b.store.AddTransaction(storage.EncryptedTransaction{
		PostedAt:      postedAt,
		DescriptionCT: descCT,
		AccountID:     accountID,
		CategoryID:    categoryID,
		AmountCT:      amountCT,
		Meta:          types.Meta{Origin: b.cfg.InstanceID, CreatedAt: b.clock()},
	})
	if err != nil {
		return types.Transaction{}, err
	}

	newBalanceCT, err := b.encryptAmount(newBalance)
	if err != nil {
		log.Errorf("add_transaction: balance update not applied after transaction insert, recover with emergency remove: %v", err)
		return types.Transaction{}, err
	}
	account.BalanceCT = newBalanceCT
	if err := b.store.UpdateAccount(account); err != nil {
		log.Errorf("add_transaction: transaction %s inserted but account balance update failed: %v", row.ID, err)
		return types.Transaction{}, err
	}
	return b.decryptTransaction(row)
}

// RemoveTransaction logically deletes transaction id at removalTimestamp.
// If emergency is false, the transaction's amount is first subtracted
// from its account's balance (mirroring AddTransaction in reverse). If
// emergency is true, only the logical delete happens — used to recover
// from a crash between AddTransaction's steps 4 and 5, where reversing
// the balance would double-correct a delta that was never applied.
func (b *Budget) RemoveTransaction(id uuid.UUID, emergency bool, removalTimestamp int64) error {
	tx, err := b.store.GetTransaction(id)
	if err != nil {
		return err
	}
	if !emergency {
		amount, err := b.decryptAmount(tx.AmountCT)
		if err != nil {
			return err
		}
		account, err := b.store.GetAccount(tx.AccountID)
		if err != nil {
			return err
		}
		balance, err := b.decryptAmount(account.BalanceCT)
		if err != nil {
			return err
		}
		newBalanceCT, err := b.encryptAmount(balance - amount)
		if err != nil {
			return err
		}
		account.BalanceCT = newBalanceCT
		if err := b.store.UpdateAccount(account); err != nil {
			return err
		}
	}
	return b.store.RemoveTransaction(id, removalTimestamp)
}

// AddTransfer synthesizes two opposite-signed transactions at the same
// timestamp, referencing the two predefined transfer categories. amount
// is taken as an absolute value; the income leg (on to) receives
// +amount, the outcome leg (on from) receives -amount.
func (b *Budget) AddTransfer(amount int64, from, to uuid.UUID, timestamp int64) (outcomeLeg, incomeLeg types.Transaction, err error) {
	if amount < 0 {
		amount = -amount
	}
	outcomeLeg, err = b.AddTransaction(from, types.TransferOutcomeID, -amount, "", timestamp)
	if err != nil {
		return types.Transaction{}, types.Transaction{}, err
	}
	incomeLeg, err = b.AddTransaction(to, types.TransferIncomeID, amount, "", timestamp)
	if err != nil {
		return outcomeLeg, types.Transaction{}, err
	}
	return outcomeLeg, incomeLeg, nil
}

// Transactions returns transactions matching filter, decrypted, in the
// order the store returns them (posted_at descending by default).
func (b *Budget) Transactions(filter storage.TransactionFilter) ([]types.Transaction, error) {
	rows, err := b.store.ListTransactions(filter)
	if err != nil {
		return nil, err
	}
	out := make([]types.Transaction, len(rows))
	for i, row := range rows {
		tx, err := b.decryptTransaction(row)
		if err != nil {
			return nil, err
		}
		out[i] = tx
	}
	return out, nil
}

// PerformSync delegates to the SyncCoordinator, then calls purge() —
// tombstones that have just been exported no longer need to persist
// locally. The Coordinator's own sync cycle already purges as its last
// step (SPEC_FULL.md §4.5); the second call here is a harmless no-op,
// kept because spec.md names both.
func (b *Budget) PerformSync(ctx context.Context, auth string) error {
	if err := b.sync.Sync(ctx, auth); err != nil {
		return err
	}
	return b.store.Purge()
}
