// Package memory provides an in-memory LedgerStore for tests and dry runs.
// It mirrors the postgres store's semantics: user scoping, date-ascending
// keyset pagination, conditional link writes and scoped transactions with
// rollback.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tally/internal/domain/ledger"
)

// Store is a thread-safe in-memory implementation of ledger.Store.
type Store struct {
	mu sync.RWMutex
	s  *state
}

type state struct {
	transactions map[string]*ledger.Transaction
	splits       map[string]*ledger.TransactionSplit // by split id
	tagSets      map[string]*ledger.TagSet
	tags         map[string]*ledger.Tag
	txTags       map[string][]string // transaction id -> tag ids
	categories   map[int64]*ledger.Category
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{s: newState()}
}

func newState() *state {
	return &state{
		transactions: make(map[string]*ledger.Transaction),
		splits:       make(map[string]*ledger.TransactionSplit),
		tagSets:      make(map[string]*ledger.TagSet),
		tags:         make(map[string]*ledger.Tag),
		txTags:       make(map[string][]string),
		categories:   make(map[int64]*ledger.Category),
	}
}

func (st *state) clone() *state {
	c := newState()
	for id, tx := range st.transactions {
		cp := *tx
		c.transactions[id] = &cp
	}
	for id, s := range st.splits {
		cp := *s
		c.splits[id] = &cp
	}
	for id, ts := range st.tagSets {
		cp := *ts
		c.tagSets[id] = &cp
	}
	for id, t := range st.tags {
		cp := *t
		c.tags[id] = &cp
	}
	for id, ids := range st.txTags {
		c.txTags[id] = append([]string(nil), ids...)
	}
	for id, cat := range st.categories {
		cp := *cat
		c.categories[id] = &cp
	}
	return c
}

// Seed helpers, for tests and fixtures.

// AddTransaction stores a copy of the transaction.
func (m *Store) AddTransaction(tx *ledger.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *tx
	m.s.transactions[tx.ID] = &cp
}

// AddCategory stores a copy of the category.
func (m *Store) AddCategory(c *ledger.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.s.categories[c.ID] = &cp
}

// AddTagSet stores a copy of the tag set.
func (m *Store) AddTagSet(ts *ledger.TagSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ts
	m.s.tagSets[ts.ID] = &cp
}

// AddTag stores a copy of the tag.
func (m *Store) AddTag(t *ledger.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.s.tags[t.ID] = &cp
}

// TagTransaction attaches tags to a transaction.
func (m *Store) TagTransaction(txID string, tagIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.txTags[txID] = append(m.s.txTags[txID], tagIDs...)
}

// ledger.Store implementation. Exported methods take the lock and delegate
// to unexported unlocked cores so the transactional view can reuse them.

func (m *Store) GetTransaction(ctx context.Context, userID int64, id string) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.getTransaction(userID, id)
}

func (st *state) getTransaction(userID int64, id string) (*ledger.Transaction, error) {
	tx, ok := st.transactions[id]
	if !ok || tx.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	cp := *tx
	return &cp, nil
}

func (m *Store) GetTransactionsByIDs(ctx context.Context, userID int64, ids []string) (map[string]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*ledger.Transaction, len(ids))
	for _, id := range ids {
		if tx, ok := m.s.transactions[id]; ok && tx.UserID == userID {
			cp := *tx
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *Store) ListUnlinkedTransactions(ctx context.Context, userID int64, cursor string, limit int) ([]*ledger.Transaction, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listUnlinked(userID, cursor, limit)
}

func (st *state) listUnlinked(userID int64, cursor string, limit int) ([]*ledger.Transaction, string, error) {
	afterDate, afterID, err := ledger.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var all []*ledger.Transaction
	for _, tx := range st.transactions {
		if tx.UserID != userID || tx.LinkedTransactionID != nil {
			continue
		}
		all = append(all, tx)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.Before(all[j].Date)
		}
		return all[i].ID < all[j].ID
	})

	var page []*ledger.Transaction
	for _, tx := range all {
		if cursor != "" && !ledger.KeysetAfter(tx.Date, tx.ID, afterDate, afterID) {
			continue
		}
		cp := *tx
		page = append(page, &cp)
		if limit > 0 && len(page) == limit {
			break
		}
	}

	next := ""
	if limit > 0 && len(page) == limit {
		last := page[len(page)-1]
		next = ledger.EncodeCursor(last.Date, last.ID)
	}
	return page, next, nil
}

func (m *Store) FindTransferCandidates(ctx context.Context, userID int64, c ledger.TransferCriteria) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.findCandidates(userID, c)
}

func (st *state) findCandidates(userID int64, c ledger.TransferCriteria) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, tx := range st.transactions {
		if tx.UserID != userID ||
			tx.ID == c.ExcludeID ||
			tx.AccountID == c.AccountID ||
			tx.Type != c.Type ||
			!tx.Amount.Equal(c.Amount) ||
			tx.LinkedTransactionID != nil ||
			tx.Date.Before(c.DateFrom) || tx.Date.After(c.DateTo) {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) SetLink(ctx context.Context, userID int64, idA, idB string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.setLink(userID, idA, idB)
}

func (st *state) setLink(userID int64, idA, idB string) error {
	a, okA := st.transactions[idA]
	b, okB := st.transactions[idB]
	if !okA || a.UserID != userID {
		return fmt.Errorf("transaction %s: %w", idA, ledger.ErrNotFound)
	}
	if !okB || b.UserID != userID {
		return fmt.Errorf("transaction %s: %w", idB, ledger.ErrNotFound)
	}
	if a.LinkedTransactionID != nil || b.LinkedTransactionID != nil {
		return fmt.Errorf("link %s<->%s: %w", idA, idB, ledger.ErrConflict)
	}
	linkA, linkB := idB, idA
	a.LinkedTransactionID = &linkA
	b.LinkedTransactionID = &linkB
	a.UpdatedAt = time.Now()
	b.UpdatedAt = time.Now()
	return nil
}

func (m *Store) ClearLink(ctx context.Context, userID int64, idA, idB string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.clearLink(userID, idA, idB)
}

func (st *state) clearLink(userID int64, idA, idB string) error {
	a, okA := st.transactions[idA]
	b, okB := st.transactions[idB]
	if !okA || a.UserID != userID {
		return fmt.Errorf("transaction %s: %w", idA, ledger.ErrNotFound)
	}
	if !okB || b.UserID != userID {
		return fmt.Errorf("transaction %s: %w", idB, ledger.ErrNotFound)
	}
	a.LinkedTransactionID = nil
	b.LinkedTransactionID = nil
	a.UpdatedAt = time.Now()
	b.UpdatedAt = time.Now()
	return nil
}

func (m *Store) GetSplit(ctx context.Context, splitID string) (*ledger.TransactionSplit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.s.splits[splitID]
	if !ok {
		return nil, fmt.Errorf("split %s: %w", splitID, ledger.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *Store) ListSplits(ctx context.Context, transactionID string) ([]*ledger.TransactionSplit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listSplits(transactionID), nil
}

func (st *state) listSplits(transactionID string) []*ledger.TransactionSplit {
	var out []*ledger.TransactionSplit
	for _, s := range st.splits {
		if s.TransactionID == transactionID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Store) ReplaceSplits(ctx context.Context, transactionID string, splits []*ledger.TransactionSplit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.replaceSplits(transactionID, splits)
}

func (st *state) replaceSplits(transactionID string, splits []*ledger.TransactionSplit) error {
	for id, s := range st.splits {
		if s.TransactionID == transactionID {
			delete(st.splits, id)
		}
	}
	for _, s := range splits {
		cp := *s
		cp.TransactionID = transactionID
		st.splits[s.ID] = &cp
	}
	return nil
}

func (m *Store) SetTransactionCategoryAndSplitFlag(ctx context.Context, transactionID string, categoryID *int64, isSplit bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.setCategoryAndSplitFlag(transactionID, categoryID, isSplit)
}

func (st *state) setCategoryAndSplitFlag(transactionID string, categoryID *int64, isSplit bool) error {
	tx, ok := st.transactions[transactionID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrNotFound)
	}
	tx.CategoryID = categoryID
	tx.IsSplit = isSplit
	tx.UpdatedAt = time.Now()
	return nil
}

func (m *Store) ListTransactions(ctx context.Context, userID int64, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listTransactions(userID, f)
}

func (st *state) listTransactions(userID int64, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	for _, tx := range st.transactions {
		if tx.UserID != userID {
			continue
		}
		if !f.From.IsZero() && tx.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(f.To) {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.AccountID != "" && tx.AccountID != f.AccountID {
			continue
		}
		if f.CategoryID != nil && (tx.CategoryID == nil || *tx.CategoryID != *f.CategoryID) {
			continue
		}
		if f.IsSplit != nil && tx.IsSplit != *f.IsSplit {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Store) ListSplitsByTransactionIDs(ctx context.Context, transactionIDs []string) (map[string][]*ledger.TransactionSplit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listSplitsByTransactionIDs(transactionIDs)
}

func (st *state) listSplitsByTransactionIDs(transactionIDs []string) (map[string][]*ledger.TransactionSplit, error) {
	wanted := make(map[string]bool, len(transactionIDs))
	for _, id := range transactionIDs {
		wanted[id] = true
	}
	out := make(map[string][]*ledger.TransactionSplit)
	for _, s := range st.splits {
		if wanted[s.TransactionID] {
			cp := *s
			out[s.TransactionID] = append(out[s.TransactionID], &cp)
		}
	}
	for _, splits := range out {
		sort.Slice(splits, func(i, j int) bool { return splits[i].ID < splits[j].ID })
	}
	return out, nil
}

func (m *Store) ListTransactionTags(ctx context.Context, transactionIDs []string) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listTransactionTags(transactionIDs)
}

func (st *state) listTransactionTags(transactionIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, id := range transactionIDs {
		if tags, ok := st.txTags[id]; ok && len(tags) > 0 {
			out[id] = append([]string(nil), tags...)
		}
	}
	return out, nil
}

func (m *Store) ListTagsBySet(ctx context.Context, userID int64, setName string) ([]*ledger.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listTagsBySet(userID, setName)
}

func (st *state) listTagsBySet(userID int64, setName string) ([]*ledger.Tag, error) {
	var set *ledger.TagSet
	for _, ts := range st.tagSets {
		if ts.UserID == userID && ts.Name == setName {
			set = ts
			break
		}
	}
	if set == nil {
		return nil, fmt.Errorf("tag set %q: %w", setName, ledger.ErrNotFound)
	}

	var out []*ledger.Tag
	for _, t := range st.tags {
		if t.SetID == set.ID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) ListCategories(ctx context.Context, userID int64) ([]*ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.listCategories(userID)
}

func (st *state) listCategories(userID int64) ([]*ledger.Category, error) {
	var out []*ledger.Category
	for _, c := range st.categories {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RunInTransaction takes the write lock for the whole scope, snapshots the
// state and restores it when fn fails, so a mid-flow error never leaves a
// half-updated parent/splits or link pair behind.
func (m *Store) RunInTransaction(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(&txView{s: m.s}); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// txView is the store handed to a RunInTransaction callback. It operates on
// the already-locked state directly; nesting reuses the same view.
type txView struct {
	s *state
}

func (v *txView) GetTransaction(ctx context.Context, userID int64, id string) (*ledger.Transaction, error) {
	return v.s.getTransaction(userID, id)
}

func (v *txView) GetTransactionsByIDs(ctx context.Context, userID int64, ids []string) (map[string]*ledger.Transaction, error) {
	out := make(map[string]*ledger.Transaction, len(ids))
	for _, id := range ids {
		if tx, ok := v.s.transactions[id]; ok && tx.UserID == userID {
			cp := *tx
			out[id] = &cp
		}
	}
	return out, nil
}

func (v *txView) ListUnlinkedTransactions(ctx context.Context, userID int64, cursor string, limit int) ([]*ledger.Transaction, string, error) {
	return v.s.listUnlinked(userID, cursor, limit)
}

func (v *txView) FindTransferCandidates(ctx context.Context, userID int64, c ledger.TransferCriteria) ([]*ledger.Transaction, error) {
	return v.s.findCandidates(userID, c)
}

func (v *txView) SetLink(ctx context.Context, userID int64, idA, idB string) error {
	return v.s.setLink(userID, idA, idB)
}

func (v *txView) ClearLink(ctx context.Context, userID int64, idA, idB string) error {
	return v.s.clearLink(userID, idA, idB)
}

func (v *txView) GetSplit(ctx context.Context, splitID string) (*ledger.TransactionSplit, error) {
	s, ok := v.s.splits[splitID]
	if !ok {
		return nil, fmt.Errorf("split %s: %w", splitID, ledger.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (v *txView) ListSplits(ctx context.Context, transactionID string) ([]*ledger.TransactionSplit, error) {
	return v.s.listSplits(transactionID), nil
}

func (v *txView) ReplaceSplits(ctx context.Context, transactionID string, splits []*ledger.TransactionSplit) error {
	return v.s.replaceSplits(transactionID, splits)
}

func (v *txView) SetTransactionCategoryAndSplitFlag(ctx context.Context, transactionID string, categoryID *int64, isSplit bool) error {
	return v.s.setCategoryAndSplitFlag(transactionID, categoryID, isSplit)
}

func (v *txView) ListTransactions(ctx context.Context, userID int64, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	return v.s.listTransactions(userID, f)
}

func (v *txView) ListSplitsByTransactionIDs(ctx context.Context, transactionIDs []string) (map[string][]*ledger.TransactionSplit, error) {
	return v.s.listSplitsByTransactionIDs(transactionIDs)
}

func (v *txView) ListTransactionTags(ctx context.Context, transactionIDs []string) (map[string][]string, error) {
	return v.s.listTransactionTags(transactionIDs)
}

func (v *txView) ListTagsBySet(ctx context.Context, userID int64, setName string) ([]*ledger.Tag, error) {
	return v.s.listTagsBySet(userID, setName)
}

func (v *txView) ListCategories(ctx context.Context, userID int64) ([]*ledger.Category, error) {
	return v.s.listCategories(userID)
}

func (v *txView) RunInTransaction(ctx context.Context, fn func(ledger.Store) error) error {
	return fn(v)
}
