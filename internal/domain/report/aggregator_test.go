package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
	"tally/internal/infrastructure/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func int64Ptr(v int64) *int64 { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixtureStore seeds a small ledger exercising categories, splits, vendors
// and credits:
//
//	tx-g1    2026-01-10  debit  50.00  cat 1  Costco
//	tx-d1    2026-01-15  debit  20.00  cat 2  Pasta Place
//	tx-u1    2026-01-20  debit  10.00  -      (no vendor)
//	tx-sp    2026-01-25  debit 120.00  split: 70.00 -> cat 1, 50.00 -> cat 2
//	tx-cr    2026-01-31  credit 500.00 cat 3  Employer
//	tx-g2    2026-02-05  debit  30.00  cat 1  Costco
func fixtureStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()

	add := func(id string, d time.Time, amount string, txType ledger.TransactionType, categoryID *int64, vendor string, isSplit bool) {
		store.AddTransaction(&ledger.Transaction{
			ID:        id,
			UserID:    1,
			AccountID: "acc-1",
			Date:      d,
			Amount:    dec(amount),
			Type:      txType,
			Vendor:    vendor,
			CategoryID: func() *int64 {
				if isSplit {
					return nil
				}
				return categoryID
			}(),
			IsSplit: isSplit,
		})
	}

	add("tx-g1", date(2026, 1, 10), "50.00", ledger.Debit, int64Ptr(1), "Costco", false)
	add("tx-d1", date(2026, 1, 15), "20.00", ledger.Debit, int64Ptr(2), "Pasta Place", false)
	add("tx-u1", date(2026, 1, 20), "10.00", ledger.Debit, nil, "", false)
	add("tx-sp", date(2026, 1, 25), "120.00", ledger.Debit, nil, "Costco", true)
	add("tx-cr", date(2026, 1, 31), "500.00", ledger.Credit, int64Ptr(3), "Employer", false)
	add("tx-g2", date(2026, 2, 5), "30.00", ledger.Debit, int64Ptr(1), "Costco", false)

	if err := store.ReplaceSplits(context.Background(), "tx-sp", []*ledger.TransactionSplit{
		{ID: "sp-1", TransactionID: "tx-sp", CategoryID: int64Ptr(1), Amount: dec("70.00")},
		{ID: "sp-2", TransactionID: "tx-sp", CategoryID: int64Ptr(2), Amount: dec("50.00")},
	}); err != nil {
		t.Fatalf("ReplaceSplits() failed: %v", err)
	}
	return store
}

func january() Query {
	return Query{From: date(2026, 1, 1), To: date(2026, 1, 31), Type: ledger.Debit}
}

func TestCategorySpending(t *testing.T) {
	store := fixtureStore(t)
	agg := NewAggregator(store, zerolog.Nop())

	got, err := agg.CategorySpending(context.Background(), 1, january())
	if err != nil {
		t.Fatalf("CategorySpending() failed: %v", err)
	}

	// cat 1: 50 direct + 70 split line; cat 2: 20 direct + 50 split line;
	// uncategorized: 10. The split parent's 120 must not appear anywhere.
	want := []struct {
		categoryID *int64
		total      string
	}{
		{int64Ptr(1), "120.00"},
		{int64Ptr(2), "70.00"},
		{nil, "10.00"},
	}
	if len(got) != len(want) {
		t.Fatalf("CategorySpending() returned %d sums, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if (got[i].CategoryID == nil) != (w.categoryID == nil) {
			t.Errorf("sum[%d].CategoryID = %v, want %v", i, got[i].CategoryID, w.categoryID)
			continue
		}
		if w.categoryID != nil && *got[i].CategoryID != *w.categoryID {
			t.Errorf("sum[%d].CategoryID = %d, want %d", i, *got[i].CategoryID, *w.categoryID)
		}
		if !got[i].Total.Equal(dec(w.total)) {
			t.Errorf("sum[%d].Total = %s, want %s", i, got[i].Total, w.total)
		}
	}
}

func TestCategorySpending_CreditsOnly(t *testing.T) {
	store := fixtureStore(t)
	agg := NewAggregator(store, zerolog.Nop())

	q := january()
	q.Type = ledger.Credit
	got, err := agg.CategorySpending(context.Background(), 1, q)
	if err != nil {
		t.Fatalf("CategorySpending() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("CategorySpending() returned %d sums, want 1", len(got))
	}
	if got[0].CategoryID == nil || *got[0].CategoryID != 3 || !got[0].Total.Equal(dec("500.00")) {
		t.Errorf("credit sum = %+v, want category 3 total 500.00", got[0])
	}
}

func TestSpendingForCategory(t *testing.T) {
	store := fixtureStore(t)
	agg := NewAggregator(store, zerolog.Nop())

	got, err := agg.SpendingForCategory(context.Background(), 1, 1, january())
	if err != nil {
		t.Fatalf("SpendingForCategory() failed: %v", err)
	}
	if !got.Equal(dec("120.00")) {
		t.Errorf("SpendingForCategory(1) = %s, want 120.00", got)
	}

	zero, err := agg.SpendingForCategory(context.Background(), 1, 99, january())
	if err != nil {
		t.Fatalf("SpendingForCategory() failed: %v", err)
	}
	if !zero.IsZero() {
		t.Errorf("SpendingForCategory(99) = %s, want 0", zero)
	}
}

func TestVendorSpending(t *testing.T) {
	store := fixtureStore(t)
	agg := NewAggregator(store, zerolog.Nop())

	got, err := agg.VendorSpending(context.Background(), 1, january())
	if err != nil {
		t.Fatalf("VendorSpending() failed: %v", err)
	}

	// Split transactions are excluded, so Costco is 50, not 170. The
	// vendorless tx-u1 lands in the Unknown bucket.
	want := []VendorSum{
		{Vendor: "Costco", Total: dec("50.00")},
		{Vendor: "Pasta Place", Total: dec("20.00")},
		{Vendor: UnknownVendor, Total: dec("10.00")},
	}
	if len(got) != len(want) {
		t.Fatalf("VendorSpending() returned %d sums, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Vendor != w.Vendor || !got[i].Total.Equal(w.Total) {
			t.Errorf("sum[%d] = %s %s, want %s %s", i, got[i].Vendor, got[i].Total, w.Vendor, w.Total)
		}
	}
}

func TestMonthlySpending(t *testing.T) {
	store := fixtureStore(t)
	agg := NewAggregator(store, zerolog.Nop())

	q := Query{From: date(2026, 1, 1), To: date(2026, 12, 31), Type: ledger.Debit}
	got, err := agg.MonthlySpending(context.Background(), 1, q)
	if err != nil {
		t.Fatalf("MonthlySpending() failed: %v", err)
	}

	// January: 50 + 20 + 10, split parent excluded. February: 30.
	want := []MonthSum{
		{Month: "2026-01", Total: dec("80.00")},
		{Month: "2026-02", Total: dec("30.00")},
	}
	if len(got) != len(want) {
		t.Fatalf("MonthlySpending() returned %d sums, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].Month != w.Month || !got[i].Total.Equal(w.Total) {
			t.Errorf("sum[%d] = %s %s, want %s %s", i, got[i].Month, got[i].Total, w.Month, w.Total)
		}
	}
}

// taggedStore seeds two tag sets and four transactions:
//
//	Trip: paris, rome    Who: alice, bob
//	tx-1  debit 100.00  paris+alice
//	tx-2  debit  40.00  paris+bob
//	tx-3  credit 60.00  rome+alice
//	tx-4  debit  10.00  untagged
func taggedStore() *memory.Store {
	store := memory.New()

	store.AddTagSet(&ledger.TagSet{ID: "set-trip", UserID: 1, Name: "Trip"})
	store.AddTagSet(&ledger.TagSet{ID: "set-who", UserID: 1, Name: "Who"})
	store.AddTag(&ledger.Tag{ID: "t-paris", SetID: "set-trip", Name: "Paris"})
	store.AddTag(&ledger.Tag{ID: "t-rome", SetID: "set-trip", Name: "Rome"})
	store.AddTag(&ledger.Tag{ID: "t-alice", SetID: "set-who", Name: "Alice"})
	store.AddTag(&ledger.Tag{ID: "t-bob", SetID: "set-who", Name: "Bob"})

	add := func(id string, d time.Time, amount string, txType ledger.TransactionType) {
		store.AddTransaction(&ledger.Transaction{
			ID: id, UserID: 1, AccountID: "acc-1", Date: d,
			Amount: dec(amount), Type: txType,
		})
	}
	add("tx-1", date(2026, 1, 5), "100.00", ledger.Debit)
	add("tx-2", date(2026, 1, 10), "40.00", ledger.Debit)
	add("tx-3", date(2026, 1, 15), "60.00", ledger.Credit)
	add("tx-4", date(2026, 1, 20), "10.00", ledger.Debit)

	store.TagTransaction("tx-1", "t-paris", "t-alice")
	store.TagTransaction("tx-2", "t-paris", "t-bob")
	store.TagTransaction("tx-3", "t-rome", "t-alice")
	return store
}

func TestTagSetBreakdown(t *testing.T) {
	agg := NewAggregator(taggedStore(), zerolog.Nop())

	got, err := agg.TagSetBreakdown(context.Background(), 1, "Trip", TagSetQuery{
		From: date(2026, 1, 1), To: date(2026, 1, 31),
	})
	if err != nil {
		t.Fatalf("TagSetBreakdown() failed: %v", err)
	}

	want := []TagSum{
		{TagID: "t-paris", TagName: "Paris", Debits: dec("140.00"), Credits: decimal.Zero},
		{TagID: "t-rome", TagName: "Rome", Debits: decimal.Zero, Credits: dec("60.00")},
	}
	if len(got) != len(want) {
		t.Fatalf("TagSetBreakdown() returned %d sums, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].TagID != w.TagID || !got[i].Debits.Equal(w.Debits) || !got[i].Credits.Equal(w.Credits) {
			t.Errorf("sum[%d] = %+v, want %+v", i, got[i], w)
		}
	}
}

func TestTagFilter(t *testing.T) {
	agg := NewAggregator(taggedStore(), zerolog.Nop())
	ctx := context.Background()

	q := Query{
		From: date(2026, 1, 1), To: date(2026, 1, 31), Type: ledger.Debit,
		Tags: &TagFilter{TagIDs: []string{"t-paris"}},
	}
	got, err := agg.VendorSpending(ctx, 1, q)
	if err != nil {
		t.Fatalf("VendorSpending() failed: %v", err)
	}
	// tx-1 and tx-2 carry paris; the untagged tx-4 is excluded.
	if len(got) != 1 || !got[0].Total.Equal(dec("140.00")) {
		t.Fatalf("filtered total = %+v, want single Unknown bucket of 140.00", got)
	}

	q.Tags.IncludeUntagged = true
	got, err = agg.VendorSpending(ctx, 1, q)
	if err != nil {
		t.Fatalf("VendorSpending() failed: %v", err)
	}
	if len(got) != 1 || !got[0].Total.Equal(dec("150.00")) {
		t.Fatalf("filtered total with untagged = %+v, want 150.00", got)
	}
}

func TestTagCombinations(t *testing.T) {
	agg := NewAggregator(taggedStore(), zerolog.Nop())

	got, err := agg.TagCombinations(context.Background(), 1, CombinationQuery{
		From: date(2026, 1, 1), To: date(2026, 1, 31),
	})
	if err != nil {
		t.Fatalf("TagCombinations() failed: %v", err)
	}

	// Three distinct pairs; tx-4 has fewer than two tags and drops out.
	want := []Combination{
		{TagIDs: []string{"t-alice", "t-paris"}, Total: dec("100.00"), Count: 1},
		{TagIDs: []string{"t-alice", "t-rome"}, Total: dec("60.00"), Count: 1},
		{TagIDs: []string{"t-bob", "t-paris"}, Total: dec("40.00"), Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("TagCombinations() returned %d combos, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if len(got[i].TagIDs) != 2 || got[i].TagIDs[0] != w.TagIDs[0] || got[i].TagIDs[1] != w.TagIDs[1] {
			t.Errorf("combo[%d].TagIDs = %v, want %v", i, got[i].TagIDs, w.TagIDs)
		}
		if !got[i].Total.Equal(w.Total) || got[i].Count != w.Count {
			t.Errorf("combo[%d] = %s x%d, want %s x%d", i, got[i].Total, got[i].Count, w.Total, w.Count)
		}
	}
}

func TestTagCombinations_TopN(t *testing.T) {
	agg := NewAggregator(taggedStore(), zerolog.Nop())

	got, err := agg.TagCombinations(context.Background(), 1, CombinationQuery{
		From: date(2026, 1, 1), To: date(2026, 1, 31), TopN: 1,
	})
	if err != nil {
		t.Fatalf("TagCombinations() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("TagCombinations() returned %d combos, want 1", len(got))
	}
	if !got[0].Total.Equal(dec("100.00")) {
		t.Errorf("top combo total = %s, want 100.00", got[0].Total)
	}
}

func TestCrossTab(t *testing.T) {
	agg := NewAggregator(taggedStore(), zerolog.Nop())

	got, err := agg.CrossTab(context.Background(), 1, "Trip", "Who", Query{
		From: date(2026, 1, 1), To: date(2026, 1, 31),
	})
	if err != nil {
		t.Fatalf("CrossTab() failed: %v", err)
	}

	// tx-4 is missing tags from both sets and contributes no cell.
	want := []CrossTabCell{
		{TagA: "t-paris", TagB: "t-alice", Total: dec("100.00"), Count: 1},
		{TagA: "t-paris", TagB: "t-bob", Total: dec("40.00"), Count: 1},
		{TagA: "t-rome", TagB: "t-alice", Total: dec("60.00"), Count: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("CrossTab() returned %d cells, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].TagA != w.TagA || got[i].TagB != w.TagB {
			t.Errorf("cell[%d] = (%s,%s), want (%s,%s)", i, got[i].TagA, got[i].TagB, w.TagA, w.TagB)
		}
		if !got[i].Total.Equal(w.Total) || got[i].Count != w.Count {
			t.Errorf("cell[%d] = %s x%d, want %s x%d", i, got[i].Total, got[i].Count, w.Total, w.Count)
		}
	}
}

func TestCrossTab_UnknownSet(t *testing.T) {
	agg := NewAggregator(taggedStore(), zerolog.Nop())

	_, err := agg.CrossTab(context.Background(), 1, "NoSuchSet", "Who", Query{
		From: date(2026, 1, 1), To: date(2026, 1, 31),
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("CrossTab() error = %v, want ErrNotFound", err)
	}
}
