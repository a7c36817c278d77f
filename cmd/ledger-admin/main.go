package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"tally/internal/domain/budget"
	"tally/internal/domain/report"
	"tally/internal/domain/transfer"
	"tally/internal/infrastructure/postgres"
	"tally/internal/shared/config"
	"tally/internal/shared/logger"
	"tally/internal/shared/telemetry"
)

const usage = `Tally Admin CLI - Management commands for the transaction ledger

Usage:
  ledger-admin <command> [options]

Commands:
  migrate          Apply pending database migrations
  transfer-match   Run bulk transfer matching over unlinked transactions
  budget-alerts    Report categories over their warning or danger thresholds
  budget-status    Report budget consumption for every budgeted category

Examples:
  # Apply migrations
  ledger-admin migrate

  # Match transfers for one user
  ledger-admin transfer-match --user-id=1

  # Match transfers for several users, wider date window
  ledger-admin transfer-match --user-id=1,2,3 --window-days=5

  # Match transfers for every user with transactions
  ledger-admin transfer-match --all

  # Budget alerts for a user
  ledger-admin budget-alerts --user-id=1

  # Full budget status for a user
  ledger-admin budget-status --user-id=1
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "migrate":
		runMigrate(os.Args[2:])
	case "transfer-match":
		runTransferMatch(os.Args[2:])
	case "budget-alerts":
		runBudget(os.Args[2:], true)
	case "budget-status":
		runBudget(os.Args[2:], false)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage)
		os.Exit(1)
	}
}

// bootstrap loads configuration, opens the database and builds the logger.
func bootstrap() (*config.Config, *postgres.DB, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Pretty)

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	log.Debug().Str("host", cfg.Database.Host).Str("db", cfg.Database.DBName).Msg("connected to database")

	return cfg, db, log
}

func initTelemetry(ctx context.Context, cfg *config.Config, log zerolog.Logger) func() {
	if !cfg.Telemetry.Enabled {
		return func() {}
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		MetricsPort:  cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry init failed, continuing without it")
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown error")
		}
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	_, db, log := bootstrap()
	defer db.Close()

	if err := postgres.RunMigrations(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("migrations applied")
}

func runTransferMatch(args []string) {
	fs := flag.NewFlagSet("transfer-match", flag.ExitOnError)

	userIDStr := fs.String("user-id", "", "User ID(s) to match (comma-separated for multiple)")
	allUsers := fs.Bool("all", false, "Match all users with transactions")
	windowDays := fs.Int("window-days", 0, "Candidate date window in days (0 = configured default)")
	timeoutStr := fs.String("timeout", "30m", "Timeout for the operation (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: ledger-admin transfer-match [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  ledger-admin transfer-match --user-id=1")
		fmt.Println("  ledger-admin transfer-match --user-id=1,2,3 --window-days=5")
		fmt.Println("  ledger-admin transfer-match --all --timeout=1h")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userIDStr == "" && !*allUsers {
		fmt.Println("Error: must specify --user-id or --all")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid timeout format: %v\n", err)
		os.Exit(1)
	}

	cfg, db, log := bootstrap()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stopTelemetry := initTelemetry(ctx, cfg, log)
	defer stopTelemetry()

	store := postgres.NewLedgerStore(db)

	days := cfg.Matcher.WindowDays
	if *windowDays > 0 {
		days = *windowDays
	}
	matcher := transfer.NewMatcher(store, log,
		transfer.WithWindowDays(days),
		transfer.WithPageSize(cfg.Matcher.PageSize),
	)

	userIDs, err := resolveUserIDs(ctx, store, *userIDStr, *allUsers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve users")
	}
	if len(userIDs) == 0 {
		log.Info().Msg("no users to process")
		return
	}

	log.Info().Int("users", len(userIDs)).Int("window_days", days).Msg("starting transfer matching")
	startTime := time.Now()

	for _, uid := range userIDs {
		rep, err := matcher.MatchAll(ctx, uid)
		if err != nil {
			log.Error().Err(err).Int64("user_id", uid).Msg("transfer matching failed")
			continue
		}
		printMatchReport(uid, rep)
	}

	log.Info().Dur("elapsed", time.Since(startTime)).Msg("transfer matching completed")
}

func printMatchReport(userID int64, r *transfer.MatchReport) {
	fmt.Printf("\n=== User %d ===\n", userID)
	fmt.Printf("  Transactions scanned: %d\n", r.Scanned)
	fmt.Printf("  Auto-linked pairs:    %d\n", r.AutoLinked)
	fmt.Printf("  Needs review:         %d\n", len(r.NeedsReview))

	for _, g := range r.NeedsReview {
		fmt.Printf("    - %s (%s %s) has %d candidates\n",
			g.Transaction.ID, g.Transaction.Date.Format("2006-01-02"),
			g.Transaction.Amount.StringFixed(2), len(g.Candidates))
	}

	if len(r.Errors) > 0 {
		fmt.Printf("  Errors:               %d\n", len(r.Errors))
		for i, e := range r.Errors {
			if i >= 5 {
				fmt.Printf("    ... and %d more errors\n", len(r.Errors)-5)
				break
			}
			fmt.Printf("    - %s\n", e)
		}
	}
}

func runBudget(args []string, alertsOnly bool) {
	name := "budget-status"
	if alertsOnly {
		name = "budget-alerts"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)

	userID := fs.Int64("user-id", 0, "User ID to evaluate")
	timeoutStr := fs.String("timeout", "5m", "Timeout for the operation (e.g., 1m, 5m)")

	fs.Usage = func() {
		fmt.Printf("Usage: ledger-admin %s [options]\n", name)
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *userID <= 0 {
		fmt.Println("Error: must specify --user-id")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid timeout format: %v\n", err)
		os.Exit(1)
	}

	cfg, db, log := bootstrap()
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store := postgres.NewLedgerStore(db)
	reports := report.NewAggregator(store, log)
	engine := budget.NewEngine(store, reports, log, budget.WithConcurrency(cfg.Budget.Concurrency))

	now := time.Now()

	if alertsOnly {
		entries, err := engine.Alerts(ctx, *userID, now)
		if err != nil {
			log.Fatal().Err(err).Msg("budget alerts failed")
		}
		if len(entries) == 0 {
			fmt.Println("All budgets within limits")
			return
		}
		printBudgetEntries(entries)
		return
	}

	entries, err := engine.Status(ctx, *userID, now)
	if err != nil {
		log.Fatal().Err(err).Msg("budget status failed")
	}
	printBudgetEntries(entries)

	summary, err := engine.Summarize(ctx, *userID, now)
	if err != nil {
		log.Fatal().Err(err).Msg("budget summary failed")
	}
	fmt.Printf("\n=== Summary ===\n")
	fmt.Printf("  Budget:    %s\n", summary.TotalBudget.StringFixed(2))
	fmt.Printf("  Spent:     %s (%s%%)\n", summary.TotalSpent.StringFixed(2), summary.Percentage.StringFixed(1))
	fmt.Printf("  Remaining: %s\n", summary.TotalRemaining.StringFixed(2))
	fmt.Printf("  Categories: %d (ok=%d warning=%d danger=%d)\n",
		summary.Categories, summary.OKCount, summary.WarningCount, summary.DangerCount)
}

func printBudgetEntries(entries []budget.Entry) {
	for _, e := range entries {
		fmt.Printf("  [%-7s] %-24s %s: %s / %s (%s%%)\n",
			e.Severity, e.Category.Name, e.Window.Label,
			e.Spent.StringFixed(2), e.Budget.StringFixed(2), e.Percentage.StringFixed(1))
	}
}

func resolveUserIDs(ctx context.Context, store *postgres.LedgerStore, userIDStr string, all bool) ([]int64, error) {
	if all {
		return store.ListUserIDs(ctx)
	}

	var userIDs []int64
	for _, p := range strings.Split(userIDStr, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q: %w", p, err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, nil
}
