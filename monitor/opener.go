package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/tablewatch/tablewatch/connstore"
)

// DefaultConnectTimeout bounds dialing and the initial ping
const DefaultConnectTimeout = 10 * time.Second

// Opener opens a dedicated database handle for a connection
type Opener interface {
	Open(ctx context.Context, conn connstore.Connection) (*sql.DB, error)
}

// MySQLOpener opens handles with go-sql-driver/mysql
type MySQLOpener struct {
	ConnectTimeout time.Duration
	MaxOpenConns   int
}

// Config builds the driver configuration for conn
func (o MySQLOpener) Config(conn connstore.Connection) *mysql.Config {
	c := mysql.NewConfig()
	c.User = conn.Username
	c.Passwd = conn.Password
	c.Net = "tcp"
	c.Addr = conn.Address()
	c.DBName = conn.Database
	c.Timeout = o.connectTimeout()
	c.ParseTime = true
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c
}

// Open connects and pings within the connect timeout
func (o MySQLOpener) Open(ctx context.Context, conn connstore.Connection) (*sql.DB, error) {
	connector, err := mysql.NewConnector(o.Config(conn))
	if err != nil {
		return nil, fmt.Errorf("invalid connection settings for %s: %w", conn.ID, err)
	}

	db := sql.OpenDB(connector)
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, o.connectTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s (%s): %w", conn.ID, conn.Address(), err)
	}
	return db, nil
}

func (o MySQLOpener) connectTimeout() time.Duration {
	if o.ConnectTimeout <= 0 {
		return DefaultConnectTimeout
	}
	return o.ConnectTimeout
}
