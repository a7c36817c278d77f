package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
)

func seedTx(store *Store, id string, userID int64, d time.Time, linked *string) {
	store.AddTransaction(&ledger.Transaction{
		ID:                  id,
		UserID:              userID,
		AccountID:           "acc-1",
		Date:                d,
		Amount:              decimal.NewFromInt(10),
		Type:                ledger.Debit,
		LinkedTransactionID: linked,
	})
}

func TestListUnlinkedTransactions_Pagination(t *testing.T) {
	ctx := context.Background()
	store := New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedTx(store, fmt.Sprintf("tx-%d", i), 1, base.AddDate(0, 0, i), nil)
	}
	partner := "elsewhere"
	seedTx(store, "tx-linked", 1, base, &partner)
	seedTx(store, "tx-other-user", 2, base, nil)

	var got []string
	cursor := ""
	pages := 0
	for {
		page, next, err := store.ListUnlinkedTransactions(ctx, 1, cursor, 2)
		if err != nil {
			t.Fatalf("ListUnlinkedTransactions() failed: %v", err)
		}
		pages++
		for _, tx := range page {
			got = append(got, tx.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	want := []string{"tx-0", "tx-1", "tx-2", "tx-3", "tx-4"}
	if len(got) != len(want) {
		t.Fatalf("collected %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if pages < 3 {
		t.Errorf("walked %d pages, want at least 3 with limit 2", pages)
	}
}

func TestListUnlinkedTransactions_SameDateOrdersByID(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(store, "b", 1, d, nil)
	seedTx(store, "a", 1, d, nil)
	seedTx(store, "c", 1, d, nil)

	page1, next, err := store.ListUnlinkedTransactions(ctx, 1, "", 2)
	if err != nil {
		t.Fatalf("ListUnlinkedTransactions() failed: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "a" || page1[1].ID != "b" {
		t.Fatalf("page1 = %v, want [a b]", page1)
	}
	page2, _, err := store.ListUnlinkedTransactions(ctx, 1, next, 2)
	if err != nil {
		t.Fatalf("ListUnlinkedTransactions() failed: %v", err)
	}
	if len(page2) != 1 || page2[0].ID != "c" {
		t.Fatalf("page2 = %v, want [c]", page2)
	}
}

func TestListUnlinkedTransactions_BadCursor(t *testing.T) {
	store := New()
	_, _, err := store.ListUnlinkedTransactions(context.Background(), 1, "not-a-cursor", 10)
	if err == nil {
		t.Error("ListUnlinkedTransactions() expected error for malformed cursor")
	}
}

func TestSetLink_Conflict(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(store, "a", 1, d, nil)
	seedTx(store, "b", 1, d, nil)
	seedTx(store, "c", 1, d, nil)

	if err := store.SetLink(ctx, 1, "a", "b"); err != nil {
		t.Fatalf("SetLink() failed: %v", err)
	}

	err := store.SetLink(ctx, 1, "c", "b")
	if !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("SetLink() error = %v, want ErrConflict", err)
	}

	// Loser untouched, winner intact
	c, _ := store.GetTransaction(ctx, 1, "c")
	if c.LinkedTransactionID != nil {
		t.Errorf("c linked to %s after conflict, want unlinked", *c.LinkedTransactionID)
	}
	b, _ := store.GetTransaction(ctx, 1, "b")
	if b.LinkedTransactionID == nil || *b.LinkedTransactionID != "a" {
		t.Errorf("b linked to %v, want a", b.LinkedTransactionID)
	}
}

func TestSetLink_WrongUser(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(store, "a", 1, d, nil)
	seedTx(store, "b", 2, d, nil)

	err := store.SetLink(ctx, 1, "a", "b")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("SetLink() error = %v, want ErrNotFound for foreign transaction", err)
	}
}

func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(store, "a", 1, d, nil)

	sentinel := errors.New("boom")
	err := store.RunInTransaction(ctx, func(st ledger.Store) error {
		if err := st.ReplaceSplits(ctx, "a", []*ledger.TransactionSplit{
			{ID: "sp-1", TransactionID: "a", Amount: decimal.NewFromInt(10)},
		}); err != nil {
			return err
		}
		if err := st.SetTransactionCategoryAndSplitFlag(ctx, "a", nil, true); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunInTransaction() error = %v, want sentinel", err)
	}

	tx, err := store.GetTransaction(ctx, 1, "a")
	if err != nil {
		t.Fatalf("GetTransaction() failed: %v", err)
	}
	if tx.IsSplit {
		t.Error("split flag survived a rolled-back transaction")
	}
	splits, _ := store.ListSplits(ctx, "a")
	if len(splits) != 0 {
		t.Errorf("found %d splits after rollback, want 0", len(splits))
	}
}

func TestRunInTransaction_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(store, "a", 1, d, nil)

	err := store.RunInTransaction(ctx, func(st ledger.Store) error {
		return st.SetTransactionCategoryAndSplitFlag(ctx, "a", nil, true)
	})
	if err != nil {
		t.Fatalf("RunInTransaction() failed: %v", err)
	}

	tx, _ := store.GetTransaction(ctx, 1, "a")
	if !tx.IsSplit {
		t.Error("committed write not visible after RunInTransaction()")
	}
}

func TestRunInTransaction_ViewSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	store := New()
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedTx(store, "a", 1, d, nil)
	seedTx(store, "b", 1, d, nil)

	err := store.RunInTransaction(ctx, func(st ledger.Store) error {
		if err := st.SetLink(ctx, 1, "a", "b"); err != nil {
			return err
		}
		tx, err := st.GetTransaction(ctx, 1, "a")
		if err != nil {
			return err
		}
		if tx.LinkedTransactionID == nil || *tx.LinkedTransactionID != "b" {
			return fmt.Errorf("link not visible inside transaction scope")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction() failed: %v", err)
	}
}
