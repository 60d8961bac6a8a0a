package budget

import (
	"github.com/google/uuid"

	"github.com/bdgt-sh/bdgt/pkg/storage"
	"github.com/bdgt-sh/bdgt/pkg/syncer"
	"github.com/bdgt-sh/bdgt/pkg/types"
)

// Budget implements syncer.EntityCodec: ExportSince decrypts the local
// delta into the plaintext shape the wire protocol carries; ApplyRemote
// re-encrypts and merges an already-decoded remote Changelog into the
// local store, maintaining the account-balance invariant as transactions
// are replayed.

// ExportSince satisfies syncer.EntityCodec.
func (b *Budget) ExportSince(since int64) (syncer.Changelog, error) {
	var out syncer.Changelog

	accounts, err := b.store.AccountsAddedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Accounts.Added, err = decryptAll(accounts, b.decryptAccount); err != nil {
		return syncer.Changelog{}, err
	}
	removedAccounts, err := b.store.AccountsRemovedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Accounts.Removed, err = decryptAll(removedAccounts, b.decryptAccount); err != nil {
		return syncer.Changelog{}, err
	}

	categories, err := b.store.CategoriesAddedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Categories.Added, err = decryptAll(categories, b.decryptCategory); err != nil {
		return syncer.Changelog{}, err
	}
	removedCategories, err := b.store.CategoriesRemovedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Categories.Removed, err = decryptAll(removedCategories, b.decryptCategory); err != nil {
		return syncer.Changelog{}, err
	}

	plans, err := b.store.PlansAddedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Plans.Added, err = decryptAll(plans, b.decryptPlan); err != nil {
		return syncer.Changelog{}, err
	}
	removedPlans, err := b.store.PlansRemovedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Plans.Removed, err = decryptAll(removedPlans, b.decryptPlan); err != nil {
		return syncer.Changelog{}, err
	}

	transactions, err := b.store.TransactionsAddedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Transactions.Added, err = decryptAll(transactions, b.decryptTransaction); err != nil {
		return syncer.Changelog{}, err
	}
	removedTransactions, err := b.store.TransactionsRemovedSince(since)
	if err != nil {
		return syncer.Changelog{}, err
	}
	if out.Transactions.Removed, err = decryptAll(removedTransactions, b.decryptTransaction); err != nil {
		return syncer.Changelog{}, err
	}

	// Changed is reserved for a future schema revision (SPEC_FULL.md
	// §9); nothing sets Meta.ChangedAt today, so every ChangedSince
	// query returns empty and out.*.Changed stays nil.
	return out, nil
}

func decryptAll[E, P any](rows []E, decrypt func(E) (P, error)) ([]P, error) {
	out := make([]P, len(rows))
	for i, row := range rows {
		p, err := decrypt(row)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// ApplyRemote satisfies syncer.EntityCodec.
func (b *Budget) ApplyRemote(remote syncer.Changelog, localInstance uuid.UUID, since int64) error {
	for _, a := range remote.Accounts.Added {
		if !passesAdd(a.Meta, localInstance, since) {
			continue
		}
		if err := b.mergeAddAccount(a); err != nil {
			return err
		}
	}
	for _, c := range remote.Categories.Added {
		if !passesAdd(c.Meta, localInstance, since) {
			continue
		}
		if err := b.mergeAddCategory(c); err != nil {
			return err
		}
	}
	for _, p := range remote.Plans.Added {
		if !passesAdd(p.Meta, localInstance, since) {
			continue
		}
		if err := b.mergeAddPlan(p); err != nil {
			return err
		}
	}
	for _, tx := range remote.Transactions.Added {
		if !passesAdd(tx.Meta, localInstance, since) {
			continue
		}
		if err := b.mergeAddTransaction(tx); err != nil {
			return err
		}
	}

	for _, tx := range remote.Transactions.Removed {
		if !passesRemove(tx.Meta, localInstance, since) {
			continue
		}
		if err := b.mergeRemoveTransaction(tx); err != nil {
			return err
		}
	}
	for _, p := range remote.Plans.Removed {
		if !passesRemove(p.Meta, localInstance, since) {
			continue
		}
		if err := b.store.RemovePlan(p.ID, *p.Meta.RemovedAt); err != nil {
			return err
		}
	}
	for _, c := range remote.Categories.Removed {
		if !passesRemove(c.Meta, localInstance, since) {
			continue
		}
		if err := b.store.RemoveCategory(c.ID, *c.Meta.RemovedAt); err != nil {
			return err
		}
	}
	for _, a := range remote.Accounts.Removed {
		if !passesRemove(a.Meta, localInstance, since) {
			continue
		}
		if err := b.store.RemoveAccount(a.ID, *a.Meta.RemovedAt); err != nil {
			return err
		}
	}
	return nil
}

// Purge satisfies syncer.EntityCodec.
func (b *Budget) Purge() error {
	return b.store.Purge()
}

func passesAdd(meta types.Meta, localInstance uuid.UUID, since int64) bool {
	return meta.Origin != localInstance && meta.CreatedAt >= since
}

func passesRemove(meta types.Meta, localInstance uuid.UUID, since int64) bool {
	return meta.Origin != localInstance && meta.RemovedAt != nil && *meta.RemovedAt >= since
}

// mergeAddAccount inserts a remote account, discarding its reported
// balance in favor of initial_balance: subsequent transaction merges
// replay each referencing amount to rebuild the correct balance.
func (b *Budget) mergeAddAccount(a types.Account) error {
	nameCT, err := b.encryptString(a.Name)
	if err != nil {
		return err
	}
	initCT, err := b.encryptAmount(a.InitialBalance)
	if err != nil {
		return err
	}
	balCT, err := b.encryptAmount(a.InitialBalance)
	if err != nil {
		return err
	}
	_, err = b.store.AddAccount(storage.EncryptedAccount{
		ID: a.ID, NameCT: nameCT, BalanceCT: balCT, InitialBalanceCT: initCT, Meta: a.Meta,
	})
	return err
}

func (b *Budget) mergeAddCategory(c types.Category) error {
	nameCT, err := b.encryptString(c.Name)
	if err != nil {
		return err
	}
	_, err = b.store.AddCategory(storage.EncryptedCategory{ID: c.ID, NameCT: nameCT, Kind: c.Kind, Meta: c.Meta})
	return err
}

func (b *Budget) mergeAddPlan(p types.Plan) error {
	nameCT, err := b.encryptString(p.Name)
	if err != nil {
		return err
	}
	limitCT, err := b.encryptAmount(p.AmountLimit)
	if err != nil {
		return err
	}
	_, err = b.store.AddPlan(storage.EncryptedPlan{ID: p.ID, CategoryID: p.CategoryID, NameCT: nameCT, AmountLimitCT: limitCT, Meta: p.Meta})
	return err
}

// mergeAddTransaction inserts a remote transaction and folds its amount
// into the referenced account's balance, restoring the invariant the
// account merge step deliberately broke.
func (b *Budget) mergeAddTransaction(tx types.Transaction) error {
	descCT, err := b.encryptString(tx.Description)
	if err != nil {
		return err
	}
	amountCT, err := b.encryptAmount(tx.Amount)
	if err != nil {
		return err
	}
	if _, err := b.store.AddTransaction(storage.EncryptedTransaction{
		ID: tx.ID, PostedAt: tx.PostedAt, DescriptionCT: descCT,
		AccountID: tx.AccountID, CategoryID: tx.CategoryID, AmountCT: amountCT, Meta: tx.Meta,
	}); err != nil {
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
	newBalanceCT, err := b.encryptAmount(balance + tx.Amount)
	if err != nil {
		return err
	}
	account.BalanceCT = newBalanceCT
	return b.store.UpdateAccount(account)
}

// mergeRemoveTransaction reverses a remote transaction's amount from its
// account's balance, then tombstones the transaction row.
func (b *Budget) mergeRemoveTransaction(tx types.Transaction) error {
	account, err := b.store.GetAccount(tx.AccountID)
	if err != nil {
		return err
	}
	balance, err := b.decryptAmount(account.BalanceCT)
	if err != nil {
		return err
	}
	newBalanceCT, err := b.encryptAmount(balance - tx.Amount)
	if err != nil {
		return err
	}
	account.BalanceCT = newBalanceCT
	if err := b.store.UpdateAccount(account); err != nil {
		return err
	}
	return b.store.RemoveTransaction(tx.ID, *tx.Meta.RemovedAt)
}
