// Package budget evaluates category budgets against actual spend for the
// current rolling period (week, month, quarter or year).
package budget

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/domain/ledger"
	"tally/internal/domain/report"
)

// Severity thresholds, as fractions of the budget amount.
var (
	warningThreshold = decimal.NewFromFloat(0.80)
	dangerThreshold  = decimal.NewFromInt(1)
)

// DefaultConcurrency bounds the number of category evaluations in flight.
const DefaultConcurrency = 4

// Severity classifies how far into a budget a category has spent.
type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// severityFor maps a spend ratio to a severity: at or above the full budget
// is danger, at or above 80% is warning, below that ok.
func severityFor(ratio decimal.Decimal) Severity {
	switch {
	case ratio.GreaterThanOrEqual(dangerThreshold):
		return SeverityDanger
	case ratio.GreaterThanOrEqual(warningThreshold):
		return SeverityWarning
	default:
		return SeverityOK
	}
}

// Window is one concrete budget period anchored to a reference time.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// PeriodWindow computes the window of the given period containing now:
// monthly spans the current calendar month, weekly Monday through Sunday,
// quarterly the current calendar quarter, yearly the calendar year.
func PeriodWindow(period ledger.BudgetPeriod, now time.Time) (Window, error) {
	loc := now.Location()
	y, m, d := now.Date()

	switch period {
	case ledger.Weekly:
		offset := (int(now.Weekday()) + 6) % 7 // Monday = 0
		start := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		return Window{
			Start: start,
			End:   start.AddDate(0, 0, 7).Add(-time.Nanosecond),
			Label: "Week of " + start.Format("02 Jan 2006"),
		}, nil
	case ledger.Monthly:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Window{
			Start: start,
			End:   start.AddDate(0, 1, 0).Add(-time.Nanosecond),
			Label: start.Format("January 2006"),
		}, nil
	case ledger.Quarterly:
		q := (int(m) - 1) / 3
		start := time.Date(y, time.Month(q*3+1), 1, 0, 0, 0, 0, loc)
		return Window{
			Start: start,
			End:   start.AddDate(0, 3, 0).Add(-time.Nanosecond),
			Label: fmt.Sprintf("Q%d %d", q+1, y),
		}, nil
	case ledger.Yearly:
		start := time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		return Window{
			Start: start,
			End:   start.AddDate(1, 0, 0).Add(-time.Nanosecond),
			Label: fmt.Sprintf("%d", y),
		}, nil
	}
	return Window{}, ledger.InvalidArgumentf("unknown budget period %q", period)
}

// Entry is one budgeted category's standing within its current window.
type Entry struct {
	Category   *ledger.Category `json:"category"`
	Window     Window           `json:"window"`
	Budget     decimal.Decimal  `json:"budget"`
	Spent      decimal.Decimal  `json:"spent"`
	Remaining  decimal.Decimal  `json:"remaining"`
	Percentage decimal.Decimal  `json:"percentage"` // 82.0 means 82%
	Severity   Severity         `json:"severity"`
}

// Summary aggregates all budgeted categories.
type Summary struct {
	TotalBudget    decimal.Decimal `json:"totalBudget"`
	TotalSpent     decimal.Decimal `json:"totalSpent"`
	TotalRemaining decimal.Decimal `json:"totalRemaining"`
	Percentage     decimal.Decimal `json:"percentage"`
	Categories     int             `json:"categories"`
	OKCount        int             `json:"okCount"`
	WarningCount   int             `json:"warningCount"`
	DangerCount    int             `json:"dangerCount"`
}

// Engine evaluates budgets by delegating spend computation to the spending
// aggregator.
type Engine struct {
	store       ledger.Store
	reports     *report.Aggregator
	log         zerolog.Logger
	concurrency int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConcurrency overrides the per-category evaluation concurrency.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine creates a new budget alert engine.
func NewEngine(store ledger.Store, reports *report.Aggregator, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		reports:     reports,
		log:         log,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Alerts returns only the categories at or above the warning threshold,
// danger first, then percentage descending.
func (e *Engine) Alerts(ctx context.Context, userID int64, now time.Time) ([]Entry, error) {
	entries, err := e.evaluate(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	alerts := entries[:0]
	for _, en := range entries {
		if en.Severity != SeverityOK {
			alerts = append(alerts, en)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if (alerts[i].Severity == SeverityDanger) != (alerts[j].Severity == SeverityDanger) {
			return alerts[i].Severity == SeverityDanger
		}
		return alerts[i].Percentage.GreaterThan(alerts[j].Percentage)
	})
	return alerts, nil
}

// Status returns every budgeted category regardless of threshold, sorted by
// percentage descending.
func (e *Engine) Status(ctx context.Context, userID int64, now time.Time) ([]Entry, error) {
	entries, err := e.evaluate(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Percentage.GreaterThan(entries[j].Percentage)
	})
	return entries, nil
}

// Summarize returns aggregate totals and per-severity counts across all
// budgeted categories.
func (e *Engine) Summarize(ctx context.Context, userID int64, now time.Time) (*Summary, error) {
	entries, err := e.evaluate(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	s := &Summary{Categories: len(entries)}
	for _, en := range entries {
		s.TotalBudget = s.TotalBudget.Add(en.Budget)
		s.TotalSpent = s.TotalSpent.Add(en.Spent)
		switch en.Severity {
		case SeverityDanger:
			s.DangerCount++
		case SeverityWarning:
			s.WarningCount++
		default:
			s.OKCount++
		}
	}
	s.TotalRemaining = s.TotalBudget.Sub(s.TotalSpent)
	if s.TotalBudget.IsPositive() {
		s.Percentage = percentage(s.TotalSpent, s.TotalBudget)
	}
	return s, nil
}

// evaluate computes one Entry per budgeted category. Aggregation is
// read-only, so categories are evaluated concurrently with a bounded group.
func (e *Engine) evaluate(ctx context.Context, userID int64, now time.Time) ([]Entry, error) {
	categories, err := e.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	var budgeted []*ledger.Category
	for _, c := range categories {
		if c.IsBudgeted() {
			budgeted = append(budgeted, c)
		}
	}
	if len(budgeted) == 0 {
		return nil, nil
	}

	entries := make([]Entry, len(budgeted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, cat := range budgeted {
		g.Go(func() error {
			window, err := PeriodWindow(cat.BudgetPeriod, now)
			if err != nil {
				return err
			}
			spent, err := e.reports.SpendingForCategory(gctx, userID, cat.ID, report.Query{
				From: window.Start,
				To:   window.End,
				Type: ledger.Debit,
			})
			if err != nil {
				return fmt.Errorf("category %d: %w", cat.ID, err)
			}

			entry := Entry{
				Category:  cat,
				Window:    window,
				Budget:    cat.BudgetAmount,
				Spent:     spent,
				Remaining: cat.BudgetAmount.Sub(spent),
			}
			// IsBudgeted already excludes zero budgets; the guard keeps the
			// division total even if that changes.
			if cat.BudgetAmount.IsPositive() {
				entry.Percentage = percentage(spent, cat.BudgetAmount)
				entry.Severity = severityFor(spent.DivRound(cat.BudgetAmount, 8))
			} else {
				entry.Severity = SeverityOK
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Debug().Int64("user_id", userID).Int("budgeted_categories", len(entries)).Msg("budget evaluation completed")
	return entries, nil
}

// percentage returns spent/budget as a percentage with one decimal,
// e.g. 82.0 for 410 of 500.
func percentage(spent, budget decimal.Decimal) decimal.Decimal {
	return spent.Mul(decimal.NewFromInt(100)).DivRound(budget, 1)
}
