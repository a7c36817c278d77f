package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransferCriteria defines the candidate search for transfer matching.
// A candidate has a different account, the given type, the exact same
// amount, no existing link, a different id, and a date inside the window.
type TransferCriteria struct {
	ExcludeID string
	AccountID string // candidates must NOT belong to this account
	Amount    decimal.Decimal
	Type      TransactionType
	DateFrom  time.Time
	DateTo    time.Time
}

// TransactionFilter narrows read-side listings. Zero values mean "any".
// From and To are inclusive instants.
type TransactionFilter struct {
	From       time.Time
	To         time.Time
	Type       TransactionType
	AccountID  string
	CategoryID *int64
	IsSplit    *bool
}

// TransactionStore covers the primitives the transfer matcher needs.
type TransactionStore interface {
	// GetTransaction returns ErrNotFound when the id does not exist in the
	// user's ledger.
	GetTransaction(ctx context.Context, userID int64, id string) (*Transaction, error)

	// GetTransactionsByIDs batch-fetches transactions; missing ids are
	// simply absent from the map.
	GetTransactionsByIDs(ctx context.Context, userID int64, ids []string) (map[string]*Transaction, error)

	// ListUnlinkedTransactions pages through transactions with no link, in
	// date-ascending order. An empty cursor starts from the beginning; an
	// empty next cursor means the listing is exhausted.
	ListUnlinkedTransactions(ctx context.Context, userID int64, cursor string, limit int) ([]*Transaction, string, error)

	// FindTransferCandidates returns matches ordered by date ascending.
	FindTransferCandidates(ctx context.Context, userID int64, c TransferCriteria) ([]*Transaction, error)

	// SetLink links both transactions to each other in one atomic
	// conditional write. Returns ErrConflict if either side is already
	// linked at write time.
	SetLink(ctx context.Context, userID int64, idA, idB string) error

	// ClearLink removes the symmetric link between the two transactions.
	ClearLink(ctx context.Context, userID int64, idA, idB string) error
}

// SplitStore covers the primitives the split allocator needs. Splits are
// always fully replaced, never patched row by row.
type SplitStore interface {
	GetSplit(ctx context.Context, splitID string) (*TransactionSplit, error)
	ListSplits(ctx context.Context, transactionID string) ([]*TransactionSplit, error)
	ReplaceSplits(ctx context.Context, transactionID string, splits []*TransactionSplit) error
	SetTransactionCategoryAndSplitFlag(ctx context.Context, transactionID string, categoryID *int64, isSplit bool) error
}

// AggregateStore is the read side consumed by the spending aggregator and
// the budget engine. Implementations may answer from raw rows; grouping and
// attribution happen in the domain layer.
type AggregateStore interface {
	ListTransactions(ctx context.Context, userID int64, f TransactionFilter) ([]*Transaction, error)

	// ListSplitsByTransactionIDs batch-fetches splits keyed by parent id,
	// avoiding per-transaction round trips.
	ListSplitsByTransactionIDs(ctx context.Context, transactionIDs []string) (map[string][]*TransactionSplit, error)

	// ListTransactionTags returns tag ids per transaction id. Transactions
	// without tags are absent from the map.
	ListTransactionTags(ctx context.Context, transactionIDs []string) (map[string][]string, error)

	// ListTagsBySet returns the tags of the user's tag set with the given
	// name, or ErrNotFound if no such set exists.
	ListTagsBySet(ctx context.Context, userID int64, setName string) ([]*Tag, error)

	ListCategories(ctx context.Context, userID int64) ([]*Category, error)
}

// Store is the full ledger port. Mutating flows run inside RunInTransaction
// so a validation failure or store error never leaves a parent transaction
// and its splits, or a link pair, half updated.
type Store interface {
	TransactionStore
	SplitStore
	AggregateStore

	// RunInTransaction executes fn against a store view scoped to a single
	// transaction, rolling back when fn returns an error.
	RunInTransaction(ctx context.Context, fn func(Store) error) error
}
