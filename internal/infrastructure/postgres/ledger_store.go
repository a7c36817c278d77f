package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"tally/internal/domain/ledger"
)

const transactionColumns = `id, user_id, account_id, category_id, date, description, vendor,
	       amount, type, reference, notes, reconciled, linked_transaction_id,
	       is_split, import_id, created_at, updated_at`

// LedgerStore implements ledger.Store on PostgreSQL. The zero value is not
// usable; construct with NewLedgerStore.
type LedgerStore struct {
	q  querier
	db *DB // nil when this store is a transaction-scoped view
}

// NewLedgerStore creates a store backed by the given database.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{q: db, db: db}
}

// RunInTransaction executes fn against a view bound to one database
// transaction, rolling back when fn fails. Nested calls reuse the same
// transaction.
func (s *LedgerStore) RunInTransaction(ctx context.Context, fn func(ledger.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	view := &LedgerStore{q: tx}
	if err := fn(view); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *LedgerStore) GetTransaction(ctx context.Context, userID int64, id string) (*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1 AND user_id = $2
	`
	tx, err := scanTransaction(s.q.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (s *LedgerStore) GetTransactionsByIDs(ctx context.Context, userID int64, ids []string) (map[string]*ledger.Transaction, error) {
	if len(ids) == 0 {
		return map[string]*ledger.Transaction{}, nil
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND id = ANY($2)
	`
	rows, err := s.q.QueryContext(ctx, query, userID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-fetch transactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*ledger.Transaction, len(ids))
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out[tx.ID] = tx
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListUnlinkedTransactions(ctx context.Context, userID int64, cursor string, limit int) ([]*ledger.Transaction, string, error) {
	afterDate, afterID, err := ledger.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		  AND linked_transaction_id IS NULL
		  AND (date > $2 OR (date = $2 AND id > $3))
		ORDER BY date ASC, id ASC
		LIMIT $4
	`
	rows, err := s.q.QueryContext(ctx, query, userID, afterDate, afterID, limit)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list unlinked transactions: %w", err)
	}
	defer rows.Close()

	var page []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan transaction: %w", err)
		}
		page = append(page, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(page) == limit && limit > 0 {
		last := page[len(page)-1]
		next = ledger.EncodeCursor(last.Date, last.ID)
	}
	return page, next, nil
}

func (s *LedgerStore) FindTransferCandidates(ctx context.Context, userID int64, c ledger.TransferCriteria) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		  AND id <> $2
		  AND account_id <> $3
		  AND type = $4
		  AND amount = $5
		  AND linked_transaction_id IS NULL
		  AND date BETWEEN $6 AND $7
		ORDER BY date ASC, id ASC
	`
	rows, err := s.q.QueryContext(ctx, query,
		userID, c.ExcludeID, c.AccountID, c.Type, c.Amount, c.DateFrom, c.DateTo,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer candidates: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// SetLink links both rows in one conditional UPDATE. Anything other than two
// affected rows means a side was already linked (or gone) and the write is
// rolled back as a conflict.
func (s *LedgerStore) SetLink(ctx context.Context, userID int64, idA, idB string) error {
	if s.db != nil {
		return s.RunInTransaction(ctx, func(st ledger.Store) error {
			return st.SetLink(ctx, userID, idA, idB)
		})
	}

	query := `
		UPDATE transactions
		SET linked_transaction_id = CASE id WHEN $1 THEN $2::text ELSE $1::text END,
		    updated_at = now()
		WHERE id IN ($1, $2)
		  AND user_id = $3
		  AND linked_transaction_id IS NULL
	`
	res, err := s.q.ExecContext(ctx, query, idA, idB, userID)
	if err != nil {
		return fmt.Errorf("failed to set link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 2 {
		return fmt.Errorf("link %s<->%s: %w", idA, idB, ledger.ErrConflict)
	}
	return nil
}

func (s *LedgerStore) ClearLink(ctx context.Context, userID int64, idA, idB string) error {
	if s.db != nil {
		return s.RunInTransaction(ctx, func(st ledger.Store) error {
			return st.ClearLink(ctx, userID, idA, idB)
		})
	}

	query := `
		UPDATE transactions
		SET linked_transaction_id = NULL, updated_at = now()
		WHERE id IN ($1, $2) AND user_id = $3
	`
	res, err := s.q.ExecContext(ctx, query, idA, idB, userID)
	if err != nil {
		return fmt.Errorf("failed to clear link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n != 2 {
		return fmt.Errorf("clear link %s<->%s: %w", idA, idB, ledger.ErrNotFound)
	}
	return nil
}

func (s *LedgerStore) GetSplit(ctx context.Context, splitID string) (*ledger.TransactionSplit, error) {
	query := `
		SELECT id, transaction_id, category_id, amount, description
		FROM transaction_splits
		WHERE id = $1
	`
	var sp ledger.TransactionSplit
	err := s.q.QueryRowContext(ctx, query, splitID).Scan(
		&sp.ID, &sp.TransactionID, &sp.CategoryID, &sp.Amount, &sp.Description,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("split %s: %w", splitID, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get split: %w", err)
	}
	return &sp, nil
}

func (s *LedgerStore) ListSplits(ctx context.Context, transactionID string) ([]*ledger.TransactionSplit, error) {
	query := `
		SELECT id, transaction_id, category_id, amount, description
		FROM transaction_splits
		WHERE transaction_id = $1
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	defer rows.Close()
	return collectSplits(rows)
}

// ReplaceSplits deletes the transaction's splits and inserts the new set,
// the only way split rows ever change.
func (s *LedgerStore) ReplaceSplits(ctx context.Context, transactionID string, splits []*ledger.TransactionSplit) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM transaction_splits WHERE transaction_id = $1`, transactionID,
	); err != nil {
		return fmt.Errorf("failed to delete splits: %w", err)
	}
	for _, sp := range splits {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO transaction_splits (id, transaction_id, category_id, amount, description)
			VALUES ($1, $2, $3, $4, $5)
		`, sp.ID, transactionID, sp.CategoryID, sp.Amount, sp.Description); err != nil {
			return fmt.Errorf("failed to insert split: %w", err)
		}
	}
	return nil
}

func (s *LedgerStore) SetTransactionCategoryAndSplitFlag(ctx context.Context, transactionID string, categoryID *int64, isSplit bool) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = $2, is_split = $3, updated_at = now()
		WHERE id = $1
	`, transactionID, categoryID, isSplit)
	if err != nil {
		return fmt.Errorf("failed to update split flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ledger.ErrNotFound)
	}
	return nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, userID int64, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
	`
	args := []any{userID}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		query += fmt.Sprintf(" AND account_id = $%d", len(args))
	}
	if f.CategoryID != nil {
		args = append(args, *f.CategoryID)
		query += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	if f.IsSplit != nil {
		args = append(args, *f.IsSplit)
		query += fmt.Sprintf(" AND is_split = $%d", len(args))
	}
	query += " ORDER BY date ASC, id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListSplitsByTransactionIDs(ctx context.Context, transactionIDs []string) (map[string][]*ledger.TransactionSplit, error) {
	if len(transactionIDs) == 0 {
		return map[string][]*ledger.TransactionSplit{}, nil
	}
	query := `
		SELECT id, transaction_id, category_id, amount, description
		FROM transaction_splits
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query, pq.Array(transactionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-fetch splits: %w", err)
	}
	defer rows.Close()

	splits, err := collectSplits(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]*ledger.TransactionSplit)
	for _, sp := range splits {
		out[sp.TransactionID] = append(out[sp.TransactionID], sp)
	}
	return out, nil
}

func (s *LedgerStore) ListTransactionTags(ctx context.Context, transactionIDs []string) (map[string][]string, error) {
	if len(transactionIDs) == 0 {
		return map[string][]string{}, nil
	}
	query := `
		SELECT transaction_id, tag_id
		FROM transaction_tags
		WHERE transaction_id = ANY($1)
	`
	rows, err := s.q.QueryContext(ctx, query, pq.Array(transactionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-fetch transaction tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var txID, tagID string
		if err := rows.Scan(&txID, &tagID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction tag: %w", err)
		}
		out[txID] = append(out[txID], tagID)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListTagsBySet(ctx context.Context, userID int64, setName string) ([]*ledger.Tag, error) {
	var setID string
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM tag_sets WHERE user_id = $1 AND name = $2`, userID, setName,
	).Scan(&setID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tag set %q: %w", setName, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tag set: %w", err)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, set_id, name FROM tags WHERE set_id = $1 ORDER BY name ASC`, setID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Tag
	for rows.Next() {
		var t ledger.Tag
		if err := rows.Scan(&t.ID, &t.SetID, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *LedgerStore) ListCategories(ctx context.Context, userID int64) ([]*ledger.Category, error) {
	query := `
		SELECT id, user_id, name, type, budget_amount, budget_period
		FROM categories
		WHERE user_id = $1
		ORDER BY id ASC
	`
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Category
	for rows.Next() {
		var c ledger.Category
		var period sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.BudgetAmount, &period); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if period.Valid {
			c.BudgetPeriod = ledger.BudgetPeriod(period.String)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListUserIDs returns every user that has at least one transaction. Used by
// the admin CLI to fan bulk operations out over all users.
func (s *LedgerStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT DISTINCT user_id FROM transactions ORDER BY user_id ASC`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(sc scanner) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	err := sc.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.CategoryID, &tx.Date,
		&tx.Description, &tx.Vendor, &tx.Amount, &tx.Type, &tx.Reference,
		&tx.Notes, &tx.Reconciled, &tx.LinkedTransactionID, &tx.IsSplit,
		&tx.ImportID, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func collectSplits(rows *sql.Rows) ([]*ledger.TransactionSplit, error) {
	var out []*ledger.TransactionSplit
	for rows.Next() {
		var sp ledger.TransactionSplit
		if err := rows.Scan(&sp.ID, &sp.TransactionID, &sp.CategoryID, &sp.Amount, &sp.Description); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		out = append(out, &sp)
	}
	return out, rows.Err()
}
