package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "prepare":
		runPrepare(args)
	case "run":
		runWorkload(args)
	case "cleanup":
		runCleanup(args)
	case "version":
		fmt.Printf("churn version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`churn - write workload and capture check for tablewatch

Usage:
  churn <command> [options]

Commands:
  prepare   Create the workload table
  run       Run the write workload, optionally verifying capture
  cleanup   Drop the workload table
  version   Print version
  help      Show this help

Connection Options (all commands):
  --host          MySQL host (default: 127.0.0.1)
  --port          MySQL port (default: 3306)
  --user          MySQL user (default: root)
  --password      MySQL password
  --database      Database name (default: test)
  --table         Workload table (default: churn_rows)

Prepare Options:
  --drop-existing Drop the table first (default: false)

Run Options:
  --workload      mixed|insert-only|update-heavy (default: mixed)
  --operations    Total writes to execute (default: 10000)
  --duration      Duration to run (e.g. 60s), overrides --operations
  --threads       Concurrent workers (default: 8)
  --insert-pct    Insert percentage (overrides workload default)
  --update-pct    Update percentage (overrides workload default)
  --delete-pct    Delete percentage (overrides workload default)
  --batch-size    Writes per transaction (default: 1 = no batching)
  --retry         Retry deadlocks and lock wait timeouts (default: true)
  --max-retries   Maximum retry attempts (default: 3)
  --verify        Check every committed write was captured (default: false)
  --admin-url     tablewatch admin API base URL (default: http://127.0.0.1:7070)
  --connection    tablewatch connection id of the target database
  --token         Admin API bearer token
  --start         Start monitoring through the admin API before running
  --log-table     Activity log table (default: db_activity_log)
  --verify-timeout How long to wait for capture (default: 30s)

Examples:
  churn prepare --database=shop --drop-existing
  churn run --database=shop --threads=16 --operations=50000
  churn run --database=shop --verify --start --connection=shop`)
}

func connectionFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Host, "host", "127.0.0.1", "MySQL host")
	fs.IntVar(&cfg.Port, "port", 3306, "MySQL port")
	fs.StringVar(&cfg.User, "user", "root", "MySQL user")
	fs.StringVar(&cfg.Password, "password", "", "MySQL password")
	fs.StringVar(&cfg.Database, "database", "test", "Database name")
	fs.StringVar(&cfg.Table, "table", "churn_rows", "Workload table")
}

func parseOrExit(fs *flag.FlagSet, args []string, cfg *Config) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runPrepare(args []string) {
	cfg := &Config{Threads: 1}
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	connectionFlags(fs, cfg)
	fs.BoolVar(&cfg.DropExisting, "drop-existing", false, "Drop the table first")
	parseOrExit(fs, args, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Prepare failed: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.CreateTable(ctx, cfg.Table, cfg.DropExisting); err != nil {
		fmt.Fprintf(os.Stderr, "Prepare failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Table %s.%s ready; (re)start monitoring to instrument it\n", cfg.Database, cfg.Table)
}

func runCleanup(args []string) {
	cfg := &Config{Threads: 1}
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	connectionFlags(fs, cfg)
	parseOrExit(fs, args, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.DropTable(ctx, cfg.Table); err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dropped %s.%s\n", cfg.Database, cfg.Table)
}

func runWorkload(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	connectionFlags(fs, cfg)
	fs.StringVar(&cfg.Workload, "workload", "mixed", "Workload type")
	fs.IntVar(&cfg.Operations, "operations", 10000, "Total writes to execute")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run (overrides --operations)")
	fs.IntVar(&cfg.Threads, "threads", 8, "Concurrent workers")
	fs.IntVar(&cfg.InsertPct, "insert-pct", -1, "Insert percentage (overrides workload)")
	fs.IntVar(&cfg.UpdatePct, "update-pct", -1, "Update percentage (overrides workload)")
	fs.IntVar(&cfg.DeletePct, "delete-pct", -1, "Delete percentage (overrides workload)")
	fs.IntVar(&cfg.BatchSize, "batch-size", 1, "Writes per transaction (1 = no batching)")
	fs.BoolVar(&cfg.Retry, "retry", true, "Retry deadlocks and lock wait timeouts")
	fs.IntVar(&cfg.MaxRetries, "max-retries", 3, "Maximum retry attempts")
	fs.BoolVar(&cfg.Verify, "verify", false, "Check every committed write was captured")
	fs.StringVar(&cfg.AdminURL, "admin-url", "http://127.0.0.1:7070", "tablewatch admin API base URL")
	fs.StringVar(&cfg.Connection, "connection", "", "tablewatch connection id")
	fs.StringVar(&cfg.Token, "token", "", "Admin API bearer token")
	fs.BoolVar(&cfg.StartMonitor, "start", false, "Start monitoring before running")
	fs.StringVar(&cfg.LogTable, "log-table", "db_activity_log", "Activity log table")
	fs.DurationVar(&cfg.VerifyTimeout, "verify-timeout", 30*time.Second, "How long to wait for capture")
	parseOrExit(fs, args, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	if err := executeRun(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}
}

// executeRun drives the workload and, with --verify, checks capture
func executeRun(ctx context.Context, cfg *Config) error {
	dist := cfg.GetWorkloadDistribution()
	if err := dist.Validate(); err != nil {
		return err
	}

	fmt.Printf("Target:       %s:%d/%s\n", cfg.Host, cfg.Port, cfg.Database)
	fmt.Printf("Table:        %s\n", cfg.Table)
	fmt.Printf("Workload:     %s\n", cfg.Workload)
	fmt.Printf("Distribution: I:%d%% U:%d%% D:%d%%\n", dist.Insert, dist.Update, dist.Delete)
	if cfg.Duration > 0 {
		fmt.Printf("Duration:     %s\n", cfg.Duration)
	} else {
		fmt.Printf("Operations:   %d\n", cfg.Operations)
	}
	fmt.Printf("Threads:      %d\n", cfg.Threads)
	fmt.Printf("BatchSize:    %d\n", cfg.BatchSize)
	fmt.Println()

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	rows, err := pool.GetRowCount(ctx, cfg.Table)
	if err != nil {
		return fmt.Errorf("failed to read table %s (run prepare first): %w", cfg.Table, err)
	}
	fmt.Printf("Existing rows: %d\n", rows)

	var admin *AdminClient
	if cfg.Verify || cfg.StartMonitor {
		admin = NewAdminClient(cfg.AdminURL, cfg.Connection, cfg.Token)
	}
	if cfg.StartMonitor {
		msg, err := admin.StartMonitoring(ctx)
		if err != nil {
			return fmt.Errorf("failed to start monitoring: %w", err)
		}
		fmt.Printf("Monitoring:   %s\n", msg)
	}

	// run keys never collide with rows from earlier runs
	keyGen := NewKeyGenerator(fmt.Sprintf("r%x", time.Now().UnixNano()), 0)

	var since int64
	if cfg.Verify {
		since, err = anchorHighWater(ctx, pool, cfg, keyGen)
		if err != nil {
			return err
		}
		fmt.Printf("Activity log high water mark: %d\n", since)
	}
	fmt.Println()

	stats := NewStats()
	ledger := NewLedger()
	opsChan := make(chan struct{}, cfg.Threads*10)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		opSelector := NewOpSelector(dist, time.Now().UnixNano()+int64(i))
		worker := NewWorker(i, pool.DB(), cfg, keyGen, opSelector, stats, ledger)
		go worker.Run(ctx, opsChan, &wg)
	}

	reporterCtx, stopReporter := context.WithCancel(ctx)
	go reportProgress(reporterCtx, stats)

	feedOps(ctx, cfg, opsChan)
	close(opsChan)
	wg.Wait()
	stopReporter()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("                    RUN COMPLETE                       ")
	fmt.Println("═══════════════════════════════════════════════════════")
	stats.PrintFinal(elapsed)

	if !cfg.Verify {
		return nil
	}

	verifier := NewVerifier(admin, cfg.Table, cfg.VerifyTimeout, cfg.PollInterval)
	result, err := verifier.Verify(context.Background(), ledger, since)
	if err != nil {
		return err
	}
	PrintVerify(result)
	if !result.Complete() {
		return fmt.Errorf("%d of %d writes were not captured", result.Expected-result.Captured, result.Expected)
	}
	return nil
}

func feedOps(ctx context.Context, cfg *Config, opsChan chan<- struct{}) {
	if cfg.Duration > 0 {
		deadline := time.After(cfg.Duration)
		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				return
			case opsChan <- struct{}{}:
			}
		}
	}

	for i := 0; i < cfg.Operations; i++ {
		select {
		case <-ctx.Done():
			return
		case opsChan <- struct{}{}:
		}
	}
}

// anchorHighWater returns the id verification starts after. An empty log is
// seeded by writing and deleting one row, since the activity endpoint cannot
// page from the very beginning.
func anchorHighWater(ctx context.Context, pool *Pool, cfg *Config, keyGen *KeyGenerator) (int64, error) {
	since, err := pool.ActivityHighWater(ctx, cfg.LogTable)
	if err != nil || since > 0 {
		return since, err
	}

	key := keyGen.NextInsertKey()
	if _, err := ExecuteOp(ctx, pool.DB(), cfg.Table, Operation{Type: OpInsert, Key: key, Value: "anchor"}); err != nil {
		return 0, fmt.Errorf("failed to write anchor row: %w", err)
	}
	if _, err := ExecuteOp(ctx, pool.DB(), cfg.Table, Operation{Type: OpDelete, Key: key}); err != nil {
		return 0, fmt.Errorf("failed to delete anchor row: %w", err)
	}

	since, err = pool.ActivityHighWater(ctx, cfg.LogTable)
	if err != nil {
		return 0, err
	}
	if since == 0 {
		return 0, fmt.Errorf("activity log %s is still empty after an anchor write; is %s monitored?", cfg.LogTable, cfg.Table)
	}
	return since, nil
}
