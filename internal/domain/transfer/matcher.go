// Package transfer detects and manages transfer pairs: two transactions in
// different accounts, of opposite type and equal amount, dated within a small
// window, representing money moved between the user's own accounts.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tally/internal/domain/ledger"
)

const (
	// DefaultWindowDays is the date window for candidate search (± days).
	DefaultWindowDays = 3

	// DefaultPageSize bounds memory during bulk matching: unlinked
	// transactions are fetched in pages of this size.
	DefaultPageSize = 200
)

// Matcher contains the transfer detection and linking logic.
type Matcher struct {
	store      ledger.Store
	log        zerolog.Logger
	windowDays int
	pageSize   int
}

// Option customizes a Matcher.
type Option func(*Matcher)

// WithWindowDays overrides the candidate date window.
func WithWindowDays(days int) Option {
	return func(m *Matcher) {
		if days > 0 {
			m.windowDays = days
		}
	}
}

// WithPageSize overrides the bulk-matching page size.
func WithPageSize(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// NewMatcher creates a new transfer matcher.
func NewMatcher(store ledger.Store, log zerolog.Logger, opts ...Option) *Matcher {
	m := &Matcher{
		store:      store,
		log:        log,
		windowDays: DefaultWindowDays,
		pageSize:   DefaultPageSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindCandidates returns possible transfer partners for the transaction,
// ordered by date ascending: different account, exact same amount, opposite
// type, unlinked, dated within the configured window. An empty result is a
// normal outcome, not an error.
func (m *Matcher) FindCandidates(ctx context.Context, userID int64, txID string) ([]*ledger.Transaction, error) {
	tx, err := m.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return nil, err
	}
	return m.candidatesFor(ctx, tx)
}

func (m *Matcher) candidatesFor(ctx context.Context, tx *ledger.Transaction) ([]*ledger.Transaction, error) {
	window := time.Duration(m.windowDays) * 24 * time.Hour
	criteria := ledger.TransferCriteria{
		ExcludeID: tx.ID,
		AccountID: tx.AccountID,
		Amount:    tx.Amount,
		Type:      tx.Type.Opposite(),
		DateFrom:  tx.Date.Add(-window),
		DateTo:    tx.Date.Add(window),
	}
	candidates, err := m.store.FindTransferCandidates(ctx, tx.UserID, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to find transfer candidates: %w", err)
	}
	return candidates, nil
}

// Link marks two transactions as a transfer pair. The write is a single
// conditional update of both sides; if either side is linked at write time
// the call fails with ledger.ErrConflict and nothing changes.
func (m *Matcher) Link(ctx context.Context, userID int64, aID, bID string) error {
	if aID == bID {
		return ledger.InvalidArgumentf("cannot link transaction %s to itself", aID)
	}

	pair, err := m.store.GetTransactionsByIDs(ctx, userID, []string{aID, bID})
	if err != nil {
		return fmt.Errorf("failed to load link pair: %w", err)
	}
	a, okA := pair[aID]
	b, okB := pair[bID]
	if !okA {
		return fmt.Errorf("transaction %s: %w", aID, ledger.ErrNotFound)
	}
	if !okB {
		return fmt.Errorf("transaction %s: %w", bID, ledger.ErrNotFound)
	}

	if a.AccountID == b.AccountID {
		return ledger.InvalidArgumentf("transfer pair must span two accounts")
	}
	if a.Type == b.Type {
		return ledger.InvalidArgumentf("transfer pair must have opposite types, both are %s", a.Type)
	}
	if !a.Amount.Equal(b.Amount) {
		return ledger.InvalidArgumentf("transfer pair amounts differ: %s vs %s", a.Amount, b.Amount)
	}

	if err := m.store.SetLink(ctx, userID, aID, bID); err != nil {
		return err
	}
	m.log.Info().Str("transaction_id", aID).Str("linked_to", bID).Msg("transfer pair linked")
	return nil
}

// Unlink clears the transfer link on both sides and returns the former
// partner's id. A transaction that is not linked is a no-op returning nil.
func (m *Matcher) Unlink(ctx context.Context, userID int64, txID string) (*string, error) {
	tx, err := m.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return nil, err
	}
	if tx.LinkedTransactionID == nil {
		return nil, nil
	}

	partner := *tx.LinkedTransactionID
	if err := m.store.ClearLink(ctx, userID, txID, partner); err != nil {
		return nil, fmt.Errorf("failed to clear link: %w", err)
	}
	m.log.Info().Str("transaction_id", txID).Str("unlinked_from", partner).Msg("transfer pair unlinked")
	return &partner, nil
}

// ReviewGroup is a transaction with more than one plausible transfer
// partner. The caller must pick one and call Link explicitly.
type ReviewGroup struct {
	Transaction *ledger.Transaction   `json:"transaction"`
	Candidates  []*ledger.Transaction `json:"candidates"`
}

// MatchReport summarizes one bulk matching pass.
type MatchReport struct {
	Scanned     int           `json:"scanned"`
	AutoLinked  int           `json:"autoLinked"`
	NeedsReview []ReviewGroup `json:"needsReview"`
	Errors      []string      `json:"errors"`
}

// MatchAll runs the bulk matching workflow over every unlinked transaction
// in the user's ledger, in deterministic date-ascending order. A transaction
// with exactly one candidate is linked immediately, so later transactions in
// the same pass cannot claim the same partner; zero candidates are skipped;
// two or more go to the needs-review list. Rerunning is safe because linked
// transactions are excluded from both enumeration and candidate search.
func (m *Matcher) MatchAll(ctx context.Context, userID int64) (*MatchReport, error) {
	report := &MatchReport{Errors: []string{}}

	// Transactions auto-linked earlier in this pass may still appear in
	// pages fetched before the write; claimed tracks them.
	claimed := make(map[string]bool)

	cursor := ""
	for {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		page, next, err := m.store.ListUnlinkedTransactions(ctx, userID, cursor, m.pageSize)
		if err != nil {
			return report, fmt.Errorf("failed to list unlinked transactions: %w", err)
		}

		for _, tx := range page {
			if claimed[tx.ID] {
				continue
			}
			report.Scanned++

			candidates, err := m.candidatesFor(ctx, tx)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			// Filter out candidates claimed in this pass but fetched
			// before the linking write landed.
			unclaimed := candidates[:0]
			for _, c := range candidates {
				if !claimed[c.ID] {
					unclaimed = append(unclaimed, c)
				}
			}

			switch len(unclaimed) {
			case 0:
				// Leave unlinked, no report entry.
			case 1:
				partner := unclaimed[0]
				err := m.store.SetLink(ctx, userID, tx.ID, partner.ID)
				if errors.Is(err, ledger.ErrConflict) {
					// A concurrent run claimed one side. Skip.
					m.log.Warn().Str("transaction_id", tx.ID).Str("candidate_id", partner.ID).Msg("link conflict during bulk match, skipping")
					continue
				}
				if err != nil {
					report.Errors = append(report.Errors, err.Error())
					continue
				}
				claimed[tx.ID] = true
				claimed[partner.ID] = true
				report.AutoLinked++
			default:
				report.NeedsReview = append(report.NeedsReview, ReviewGroup{
					Transaction: tx,
					Candidates:  unclaimed,
				})
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	m.log.Info().
		Int64("user_id", userID).
		Int("scanned", report.Scanned).
		Int("auto_linked", report.AutoLinked).
		Int("needs_review", len(report.NeedsReview)).
		Int("errors", len(report.Errors)).
		Msg("bulk transfer matching completed")

	return report, nil
}
