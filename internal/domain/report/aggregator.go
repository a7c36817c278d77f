// Package report computes read-only spending and income aggregations over
// the ledger. Split transactions are attributed by their split lines: the
// parent contributes nothing directly to category totals, each line
// contributes its amount to its own category. Vendor and month groupings
// cover non-split transactions only; splits keep their category granularity
// but lose vendor and month.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tally/internal/domain/ledger"
)

// UnknownVendor is the bucket for transactions without a vendor.
const UnknownVendor = "Unknown"

// Aggregator contains the aggregation logic.
type Aggregator struct {
	store ledger.Store
	log   zerolog.Logger
}

// NewAggregator creates a new spending aggregator.
func NewAggregator(store ledger.Store, log zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, log: log}
}

// TagFilter restricts an aggregation to transactions carrying any of the
// given tags (OR semantics). IncludeUntagged additionally admits
// transactions with no tags at all.
type TagFilter struct {
	TagIDs          []string
	IncludeUntagged bool
}

// Query is the common shape of an aggregation request. From and To are
// inclusive; a zero Type means both debits and credits.
type Query struct {
	From time.Time
	To   time.Time
	Type ledger.TransactionType
	Tags *TagFilter
}

// CategorySum is one category total. A nil CategoryID is the uncategorized
// bucket, which never contains split parents.
type CategorySum struct {
	CategoryID *int64          `json:"categoryId"`
	Total      decimal.Decimal `json:"total"`
}

// CategorySpending returns per-category totals for the range:
// the direct sum of non-split transactions plus the split sum attributed via
// each line's category, with no double counting.
func (a *Aggregator) CategorySpending(ctx context.Context, userID int64, q Query) ([]CategorySum, error) {
	totals, err := a.categoryTotals(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	out := make([]CategorySum, 0, len(totals))
	for key, total := range totals {
		out = append(out, CategorySum{CategoryID: key.ptr(), Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return categoryKeyOf(out[i].CategoryID).less(categoryKeyOf(out[j].CategoryID))
	})
	return out, nil
}

// SpendingForCategory returns the single category's total for the range.
// The budget engine consumes this for debit spend against budgets.
func (a *Aggregator) SpendingForCategory(ctx context.Context, userID, categoryID int64, q Query) (decimal.Decimal, error) {
	totals, err := a.categoryTotals(ctx, userID, q)
	if err != nil {
		return decimal.Zero, err
	}
	return totals[categoryKey{id: categoryID, valid: true}], nil
}

// categoryKey makes *int64 usable as a map key.
type categoryKey struct {
	id    int64
	valid bool
}

func categoryKeyOf(id *int64) categoryKey {
	if id == nil {
		return categoryKey{}
	}
	return categoryKey{id: *id, valid: true}
}

func (k categoryKey) ptr() *int64 {
	if !k.valid {
		return nil
	}
	id := k.id
	return &id
}

func (k categoryKey) less(o categoryKey) bool {
	if k.valid != o.valid {
		return !k.valid // uncategorized first among equal totals
	}
	return k.id < o.id
}

func (a *Aggregator) categoryTotals(ctx context.Context, userID int64, q Query) (map[categoryKey]decimal.Decimal, error) {
	txs, err := a.listFiltered(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	totals := make(map[categoryKey]decimal.Decimal)
	var splitParents []string
	for _, tx := range txs {
		if tx.IsSplit {
			// The parent contributes nothing directly; its lines do.
			splitParents = append(splitParents, tx.ID)
			continue
		}
		key := categoryKeyOf(tx.CategoryID)
		totals[key] = totals[key].Add(tx.Amount)
	}

	if len(splitParents) > 0 {
		splitsByTx, err := a.store.ListSplitsByTransactionIDs(ctx, splitParents)
		if err != nil {
			return nil, fmt.Errorf("failed to batch-fetch splits: %w", err)
		}
		for _, splits := range splitsByTx {
			for _, s := range splits {
				key := categoryKeyOf(s.CategoryID)
				totals[key] = totals[key].Add(s.Amount)
			}
		}
	}
	return totals, nil
}

// VendorSum is one vendor total over non-split transactions.
type VendorSum struct {
	Vendor string          `json:"vendor"`
	Total  decimal.Decimal `json:"total"`
}

// VendorSpending groups non-split transactions by vendor. Empty vendors are
// bucketed as UnknownVendor. Split transactions are excluded: their amounts
// belong to categories, not vendors.
func (a *Aggregator) VendorSpending(ctx context.Context, userID int64, q Query) ([]VendorSum, error) {
	txs, err := a.listFiltered(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.IsSplit {
			continue
		}
		vendor := tx.Vendor
		if strings.TrimSpace(vendor) == "" {
			vendor = UnknownVendor
		}
		totals[vendor] = totals[vendor].Add(tx.Amount)
	}

	out := make([]VendorSum, 0, len(totals))
	for v, total := range totals {
		out = append(out, VendorSum{Vendor: v, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].Vendor < out[j].Vendor
	})
	return out, nil
}

// MonthSum is one year-month total over non-split transactions.
type MonthSum struct {
	Month string          `json:"month"` // "2024-01"
	Total decimal.Decimal `json:"total"`
}

// MonthlySpending groups non-split transactions by the year-month of their
// date, ordered chronologically.
func (a *Aggregator) MonthlySpending(ctx context.Context, userID int64, q Query) ([]MonthSum, error) {
	txs, err := a.listFiltered(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.IsSplit {
			continue
		}
		month := tx.Date.Format("2006-01")
		totals[month] = totals[month].Add(tx.Amount)
	}

	out := make([]MonthSum, 0, len(totals))
	for m, total := range totals {
		out = append(out, MonthSum{Month: m, Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// TagSum is one tag's debit and credit totals within a tag set.
type TagSum struct {
	TagID   string          `json:"tagId"`
	TagName string          `json:"tagName"`
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
}

// TagSetQuery narrows a tag-set breakdown.
type TagSetQuery struct {
	From       time.Time
	To         time.Time
	AccountID  string
	CategoryID *int64
}

// TagSetBreakdown groups debit and credit sums by tag for the tags of one
// named tag set. Transactions carrying several tags of the set count once
// per tag.
func (a *Aggregator) TagSetBreakdown(ctx context.Context, userID int64, setName string, q TagSetQuery) ([]TagSum, error) {
	tags, err := a.store.ListTagsBySet(ctx, userID, setName)
	if err != nil {
		return nil, err
	}
	inSet := make(map[string]*ledger.Tag, len(tags))
	for _, t := range tags {
		inSet[t.ID] = t
	}

	txs, err := a.store.ListTransactions(ctx, userID, ledger.TransactionFilter{
		From:       q.From,
		To:         q.To,
		AccountID:  q.AccountID,
		CategoryID: q.CategoryID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	tagsByTx, err := a.tagsFor(ctx, txs)
	if err != nil {
		return nil, err
	}

	sums := make(map[string]*TagSum)
	for _, tx := range txs {
		for _, tagID := range tagsByTx[tx.ID] {
			tag, ok := inSet[tagID]
			if !ok {
				continue
			}
			sum, ok := sums[tagID]
			if !ok {
				sum = &TagSum{TagID: tagID, TagName: tag.Name}
				sums[tagID] = sum
			}
			if tx.Type == ledger.Debit {
				sum.Debits = sum.Debits.Add(tx.Amount)
			} else {
				sum.Credits = sum.Credits.Add(tx.Amount)
			}
		}
	}

	out := make([]TagSum, 0, len(sums))
	for _, s := range sums {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Debits.Add(out[i].Credits), out[j].Debits.Add(out[j].Credits)
		if !di.Equal(dj) {
			return di.GreaterThan(dj)
		}
		return out[i].TagName < out[j].TagName
	})
	return out, nil
}

// Combination is a unique full set of tags shared by one or more
// transactions.
type Combination struct {
	TagIDs []string        `json:"tagIds"` // sorted
	Total  decimal.Decimal `json:"total"`
	Count  int             `json:"count"`
}

// CombinationQuery controls tag-combination grouping.
type CombinationQuery struct {
	From    time.Time
	To      time.Time
	MinSize int // minimum combination cardinality, default 2
	TopN    int // 0 means all
}

// TagCombinations groups transactions by their full sorted set of tag ids,
// sums amounts per unique combination and returns the top-N by total
// descending.
func (a *Aggregator) TagCombinations(ctx context.Context, userID int64, q CombinationQuery) ([]Combination, error) {
	minSize := q.MinSize
	if minSize <= 0 {
		minSize = 2
	}

	txs, err := a.store.ListTransactions(ctx, userID, ledger.TransactionFilter{From: q.From, To: q.To})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	tagsByTx, err := a.tagsFor(ctx, txs)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		ids   []string
		total decimal.Decimal
		count int
	}
	buckets := make(map[string]*bucket)
	for _, tx := range txs {
		tagIDs := tagsByTx[tx.ID]
		if len(tagIDs) < minSize {
			continue
		}
		ids := append([]string(nil), tagIDs...)
		sort.Strings(ids)
		key := strings.Join(ids, "\x1f")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{ids: ids}
			buckets[key] = b
		}
		b.total = b.total.Add(tx.Amount)
		b.count++
	}

	out := make([]Combination, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Combination{TagIDs: b.ids, Total: b.total, Count: b.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return strings.Join(out[i].TagIDs, ",") < strings.Join(out[j].TagIDs, ",")
	})
	if q.TopN > 0 && len(out) > q.TopN {
		out = out[:q.TopN]
	}
	return out, nil
}

// CrossTabCell is one cell of a two-tag-set cross-tabulation.
type CrossTabCell struct {
	TagA  string          `json:"tagA"`
	TagB  string          `json:"tagB"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// CrossTab builds a sparse matrix keyed by (tag from set A, tag from set B).
// A transaction contributes to every cell formed by pairing each of its
// set-A tags with each of its set-B tags; transactions missing a tag from
// either set are excluded from the matrix.
func (a *Aggregator) CrossTab(ctx context.Context, userID int64, setA, setB string, q Query) ([]CrossTabCell, error) {
	tagsA, err := a.store.ListTagsBySet(ctx, userID, setA)
	if err != nil {
		return nil, err
	}
	tagsB, err := a.store.ListTagsBySet(ctx, userID, setB)
	if err != nil {
		return nil, err
	}
	inA := tagIDSet(tagsA)
	inB := tagIDSet(tagsB)

	txs, err := a.listFiltered(ctx, userID, q)
	if err != nil {
		return nil, err
	}
	tagsByTx, err := a.tagsFor(ctx, txs)
	if err != nil {
		return nil, err
	}

	type cellKey struct{ a, b string }
	cells := make(map[cellKey]*CrossTabCell)
	for _, tx := range txs {
		var fromA, fromB []string
		for _, tagID := range tagsByTx[tx.ID] {
			if inA[tagID] {
				fromA = append(fromA, tagID)
			}
			if inB[tagID] {
				fromB = append(fromB, tagID)
			}
		}
		if len(fromA) == 0 || len(fromB) == 0 {
			continue
		}
		for _, ta := range fromA {
			for _, tb := range fromB {
				key := cellKey{a: ta, b: tb}
				cell, ok := cells[key]
				if !ok {
					cell = &CrossTabCell{TagA: ta, TagB: tb}
					cells[key] = cell
				}
				cell.Total = cell.Total.Add(tx.Amount)
				cell.Count++
			}
		}
	}

	out := make([]CrossTabCell, 0, len(cells))
	for _, c := range cells {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TagA != out[j].TagA {
			return out[i].TagA < out[j].TagA
		}
		return out[i].TagB < out[j].TagB
	})
	return out, nil
}

// listFiltered lists transactions for the query's range and type and applies
// the tag filter in memory.
func (a *Aggregator) listFiltered(ctx context.Context, userID int64, q Query) ([]*ledger.Transaction, error) {
	txs, err := a.store.ListTransactions(ctx, userID, ledger.TransactionFilter{
		From: q.From,
		To:   q.To,
		Type: q.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if q.Tags == nil || len(q.Tags.TagIDs) == 0 {
		return txs, nil
	}

	tagsByTx, err := a.tagsFor(ctx, txs)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(q.Tags.TagIDs))
	for _, id := range q.Tags.TagIDs {
		wanted[id] = true
	}

	filtered := txs[:0]
	for _, tx := range txs {
		tagIDs := tagsByTx[tx.ID]
		if len(tagIDs) == 0 {
			if q.Tags.IncludeUntagged {
				filtered = append(filtered, tx)
			}
			continue
		}
		for _, id := range tagIDs {
			if wanted[id] {
				filtered = append(filtered, tx)
				break
			}
		}
	}
	return filtered, nil
}

func (a *Aggregator) tagsFor(ctx context.Context, txs []*ledger.Transaction) (map[string][]string, error) {
	if len(txs) == 0 {
		return map[string][]string{}, nil
	}
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	tagsByTx, err := a.store.ListTransactionTags(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-fetch transaction tags: %w", err)
	}
	return tagsByTx, nil
}

func tagIDSet(tags []*ledger.Tag) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t.ID] = true
	}
	return set
}
