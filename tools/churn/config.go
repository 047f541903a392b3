package main

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// validTableName keeps generated SQL free of quoting concerns
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	// Target database
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Table    string
	LogTable string

	// Prepare options
	DropExisting bool

	// Run options
	Workload   string
	Operations int
	Duration   time.Duration
	Threads    int
	BatchSize  int // Operations per transaction (1 = no batching)

	// Workload percentages (-1 means use workload default)
	InsertPct int
	UpdatePct int
	DeletePct int

	// Retry on deadlock or lock wait timeout
	Retry      bool
	MaxRetries int

	// Capture verification through the admin API
	Verify        bool
	AdminURL      string
	Connection    string
	Token         string
	StartMonitor  bool
	VerifyTimeout time.Duration
	PollInterval  time.Duration
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if !validTableName.MatchString(c.Table) {
		return fmt.Errorf("invalid table name: %q", c.Table)
	}
	if c.LogTable == "" {
		c.LogTable = "db_activity_log"
	}
	if !validTableName.MatchString(c.LogTable) {
		return fmt.Errorf("invalid log table name: %q", c.LogTable)
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if c.Operations < 0 {
		return fmt.Errorf("operations must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be non-negative")
	}
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}

	switch c.Workload {
	case "mixed", "insert-only", "update-heavy":
	case "":
		c.Workload = "mixed"
	default:
		return fmt.Errorf("invalid workload: %s (must be mixed|insert-only|update-heavy)", c.Workload)
	}

	if c.Verify || c.StartMonitor {
		if c.AdminURL == "" {
			return fmt.Errorf("admin-url is required for verification")
		}
		if _, err := url.ParseRequestURI(c.AdminURL); err != nil {
			return fmt.Errorf("invalid admin-url: %w", err)
		}
		if c.Connection == "" {
			return fmt.Errorf("connection is required for verification")
		}
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}

	return nil
}

func (c *Config) GetWorkloadDistribution() WorkloadDistribution {
	var dist WorkloadDistribution

	switch c.Workload {
	case "mixed":
		dist = WorkloadDistribution{Insert: 50, Update: 35, Delete: 15}
	case "insert-only":
		dist = WorkloadDistribution{Insert: 100}
	case "update-heavy":
		dist = WorkloadDistribution{Insert: 20, Update: 70, Delete: 10}
	}

	if c.InsertPct >= 0 {
		dist.Insert = c.InsertPct
	}
	if c.UpdatePct >= 0 {
		dist.Update = c.UpdatePct
	}
	if c.DeletePct >= 0 {
		dist.Delete = c.DeletePct
	}

	return dist
}

type WorkloadDistribution struct {
	Insert int
	Update int
	Delete int
}

func (w WorkloadDistribution) Total() int {
	return w.Insert + w.Update + w.Delete
}

func (w WorkloadDistribution) Validate() error {
	if total := w.Total(); total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}
	return nil
}
