package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money leaving an account from money entering it.
type TransactionType string

const (
	Debit  TransactionType = "DEBIT"
	Credit TransactionType = "CREDIT"
)

// Opposite returns the counterpart type, used when searching for transfer pairs.
func (t TransactionType) Opposite() TransactionType {
	if t == Debit {
		return Credit
	}
	return Debit
}

// IsValid checks if the transaction type is one of the known values.
func (t TransactionType) IsValid() bool {
	return t == Debit || t == Credit
}

// CategoryType distinguishes spending categories from income categories.
type CategoryType string

const (
	Expense CategoryType = "EXPENSE"
	Income  CategoryType = "INCOME"
)

// BudgetPeriod is the recurring window a category budget is measured against.
type BudgetPeriod string

const (
	Weekly    BudgetPeriod = "WEEKLY"
	Monthly   BudgetPeriod = "MONTHLY"
	Quarterly BudgetPeriod = "QUARTERLY"
	Yearly    BudgetPeriod = "YEARLY"
)

// IsValid checks if the budget period is one of the known values.
func (p BudgetPeriod) IsValid() bool {
	switch p {
	case Weekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// Transaction represents a single ledger entry. Amount is always a
// non-negative magnitude; Type carries the direction.
// Invariants: IsSplit implies CategoryID is nil, and LinkedTransactionID is
// symmetric (if A points to B then B points to A).
type Transaction struct {
	ID                  string          `json:"id"`
	UserID              int64           `json:"-"`
	AccountID           string          `json:"accountId"`
	CategoryID          *int64          `json:"categoryId,omitempty"`
	Date                time.Time       `json:"date"`
	Description         string          `json:"description"`
	Vendor              string          `json:"vendor"`
	Amount              decimal.Decimal `json:"amount"`
	Type                TransactionType `json:"type"`
	Reference           string          `json:"reference"`
	Notes               string          `json:"notes"`
	Reconciled          bool            `json:"reconciled"`
	LinkedTransactionID *string         `json:"linkedTransactionId,omitempty"`
	IsSplit             bool            `json:"isSplit"`
	ImportID            string          `json:"importId"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Partner returns the linked transaction id, or the empty string when the
// transaction is not part of a transfer pair.
func (t *Transaction) Partner() string {
	if t.LinkedTransactionID == nil {
		return ""
	}
	return *t.LinkedTransactionID
}

// TransactionSplit is one allocation line of a split transaction.
// For a split transaction the sum of its split amounts matches the parent
// amount within AmountEpsilon, and a split set always has two or more lines.
type TransactionSplit struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	CategoryID    *int64          `json:"categoryId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Description   *string         `json:"description,omitempty"`
}

// SplitItem is the typed boundary payload for creating or replacing splits.
type SplitItem struct {
	CategoryID  *int64          `json:"categoryId"`
	Amount      decimal.Decimal `json:"amount"`
	Description *string         `json:"description,omitempty"`
}

// TagSet is a named classification dimension scoped to a category,
// e.g. a "Trip" set under a "Travel" category.
type TagSet struct {
	ID         string `json:"id"`
	UserID     int64  `json:"-"`
	CategoryID int64  `json:"categoryId"`
	Name       string `json:"name"`
}

// Tag belongs to exactly one TagSet.
type Tag struct {
	ID    string `json:"id"`
	SetID string `json:"setId"`
	Name  string `json:"name"`
}

// Category carries the optional budget used by the alert engine.
// A zero BudgetAmount means the category is not budgeted.
type Category struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"-"`
	Name         string          `json:"name"`
	Type         CategoryType    `json:"type"`
	BudgetAmount decimal.Decimal `json:"budgetAmount"`
	BudgetPeriod BudgetPeriod    `json:"budgetPeriod"`
}

// IsBudgeted reports whether the category takes part in budget evaluation.
func (c *Category) IsBudgeted() bool {
	return c.BudgetAmount.IsPositive()
}
