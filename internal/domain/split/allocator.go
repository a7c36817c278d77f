// Package split maintains the parent-amount / split-sum invariant: a split
// transaction's amount is divided across two or more category allocations
// whose total matches the parent within ledger.AmountEpsilon.
package split

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
)

// MinSplitCount is the smallest allowed split set.
const MinSplitCount = 2

// Allocator contains the business logic for splitting transactions.
type Allocator struct {
	store ledger.Store
	log   zerolog.Logger
}

// NewAllocator creates a new split allocator.
func NewAllocator(store ledger.Store, log zerolog.Logger) *Allocator {
	return &Allocator{store: store, log: log}
}

// Split atomically replaces the transaction's splits with the given items,
// marks it as split and clears its category. Existing splits are deleted
// first; splits are never patched incrementally.
func (a *Allocator) Split(ctx context.Context, userID int64, txID string, items []ledger.SplitItem) ([]*ledger.TransactionSplit, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	var created []*ledger.TransactionSplit
	err := a.store.RunInTransaction(ctx, func(st ledger.Store) error {
		tx, err := st.GetTransaction(ctx, userID, txID)
		if err != nil {
			return err
		}

		total := ledger.SumItems(items)
		if !ledger.WithinEpsilon(total, tx.Amount) {
			return ledger.InvalidArgumentf("split total %s does not match transaction amount %s", total, tx.Amount)
		}

		splits := make([]*ledger.TransactionSplit, 0, len(items))
		for _, it := range items {
			splits = append(splits, &ledger.TransactionSplit{
				ID:            uuid.NewString(),
				TransactionID: tx.ID,
				CategoryID:    it.CategoryID,
				Amount:        it.Amount,
				Description:   it.Description,
			})
		}

		if err := st.ReplaceSplits(ctx, tx.ID, splits); err != nil {
			return fmt.Errorf("failed to replace splits: %w", err)
		}
		if err := st.SetTransactionCategoryAndSplitFlag(ctx, tx.ID, nil, true); err != nil {
			return fmt.Errorf("failed to mark transaction as split: %w", err)
		}

		created = splits
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.log.Info().Str("transaction_id", txID).Int("splits", len(created)).Msg("transaction split")
	return created, nil
}

// Unsplit deletes all splits and restores the transaction to a single
// allocation with the given category (which may be nil).
func (a *Allocator) Unsplit(ctx context.Context, userID int64, txID string, categoryID *int64) error {
	err := a.store.RunInTransaction(ctx, func(st ledger.Store) error {
		tx, err := st.GetTransaction(ctx, userID, txID)
		if err != nil {
			return err
		}
		if !tx.IsSplit {
			return ledger.InvalidArgumentf("transaction %s is not split", txID)
		}

		if err := st.ReplaceSplits(ctx, tx.ID, nil); err != nil {
			return fmt.Errorf("failed to delete splits: %w", err)
		}
		if err := st.SetTransactionCategoryAndSplitFlag(ctx, tx.ID, categoryID, false); err != nil {
			return fmt.Errorf("failed to clear split flag: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.log.Info().Str("transaction_id", txID).Msg("transaction unsplit")
	return nil
}

// UpdateParams patches a single split line. Nil pointers leave the field
// untouched; ClearCategory removes the split's category.
type UpdateParams struct {
	CategoryID    *int64
	ClearCategory bool
	Amount        *decimal.Decimal
	Description   *string
}

// UpdateSplit patches one split after re-validating the hypothetical new
// total over all sibling splits against the parent amount. The whole split
// set is rewritten, keeping the delete-then-insert lifecycle.
func (a *Allocator) UpdateSplit(ctx context.Context, userID int64, splitID string, params UpdateParams) (*ledger.TransactionSplit, error) {
	var updated *ledger.TransactionSplit
	err := a.store.RunInTransaction(ctx, func(st ledger.Store) error {
		target, err := st.GetSplit(ctx, splitID)
		if err != nil {
			return err
		}
		tx, err := st.GetTransaction(ctx, userID, target.TransactionID)
		if err != nil {
			return err
		}
		siblings, err := st.ListSplits(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("failed to list splits: %w", err)
		}

		total := decimal.Zero
		for _, s := range siblings {
			if s.ID == splitID {
				applyPatch(s, params)
				updated = s
			}
			total = total.Add(s.Amount)
		}
		if updated == nil {
			return fmt.Errorf("split %s: %w", splitID, ledger.ErrNotFound)
		}
		if updated.Amount.Sign() <= 0 {
			return ledger.InvalidArgumentf("split amount must be positive, got %s", updated.Amount)
		}
		if !ledger.WithinEpsilon(total, tx.Amount) {
			return ledger.InvalidArgumentf("split total %s does not match transaction amount %s", total, tx.Amount)
		}

		return st.ReplaceSplits(ctx, tx.ID, siblings)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyPatch(s *ledger.TransactionSplit, params UpdateParams) {
	if params.Amount != nil {
		s.Amount = *params.Amount
	}
	if params.ClearCategory {
		s.CategoryID = nil
	} else if params.CategoryID != nil {
		s.CategoryID = params.CategoryID
	}
	if params.Description != nil {
		s.Description = params.Description
	}
}

func validateItems(items []ledger.SplitItem) error {
	if len(items) < MinSplitCount {
		return ledger.InvalidArgumentf("a split requires at least %d items, got %d", MinSplitCount, len(items))
	}
	for i, it := range items {
		if it.Amount.Sign() <= 0 {
			return ledger.InvalidArgumentf("split item %d: amount must be positive, got %s", i, it.Amount)
		}
	}
	return nil
}
