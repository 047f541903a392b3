package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Pool wraps the handle used by all workers
type Pool struct {
	db *sql.DB
}

// NewPool connects to the target database with room for one connection per thread.
func NewPool(ctx context.Context, cfg *Config) (*Pool, error) {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dsn.DBName = cfg.Database
	dsn.InterpolateParams = true
	dsn.Timeout = 10 * time.Second

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.Threads)
	db.SetMaxIdleConns(cfg.Threads)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dsn.Addr, err)
	}
	return &Pool{db: db}, nil
}

// DB returns the shared handle
func (p *Pool) DB() *sql.DB {
	return p.db
}

func (p *Pool) Close() error {
	return p.db.Close()
}

// CreateTable creates the workload table. Monitoring must be (re)started after
// this so triggers get installed on it.
func (p *Pool) CreateTable(ctx context.Context, table string, dropExisting bool) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name: %s", table)
	}

	if dropExisting {
		if _, err := p.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		"id VARCHAR(64) PRIMARY KEY, "+
		"payload VARCHAR(128) NOT NULL, "+
		"revision INT NOT NULL DEFAULT 0, "+
		"updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP"+
		") ENGINE=InnoDB", table)
	if _, err := p.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// DropTable removes the workload table
func (p *Pool) DropTable(ctx context.Context, table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name: %s", table)
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table))
	return err
}

// GetRowCount returns the number of rows in the table
func (p *Pool) GetRowCount(ctx context.Context, table string) (int64, error) {
	if !validTableName.MatchString(table) {
		return 0, fmt.Errorf("invalid table name: %s", table)
	}
	var count int64
	err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM `%s`", table)).Scan(&count)
	return count, err
}

// ActivityHighWater returns the newest activity log id, 0 when the log is
// empty. Verification only considers events after it.
func (p *Pool) ActivityHighWater(ctx context.Context, logTable string) (int64, error) {
	if !validTableName.MatchString(logTable) {
		return 0, fmt.Errorf("invalid log table name: %s", logTable)
	}
	var id int64
	err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM `%s`", logTable)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read activity log high water mark: %w", err)
	}
	return id, nil
}
