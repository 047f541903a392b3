package trigger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tablewatch/tablewatch/schema"
	"github.com/tablewatch/tablewatch/telemetry"
)

// Cache size for rendered trigger statement sets
const renderCacheSize = 512

// Execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB is what InstallAll needs: catalog reads and DDL execution
type DB interface {
	schema.Querier
	Execer
}

// InstallerConfig configures an Installer
type InstallerConfig struct {
	LogTable           string
	ExcludeTables      []string // Glob patterns
	PreviewColumns     int
	PreviewValueLength int
}

// Installer installs and removes activity triggers
type Installer struct {
	logTable       string
	exclude        []glob.Glob
	previewColumns int
	opts           RenderOptions
	cache          *lru.Cache[uint64, *Statements]
}

// Summary aggregates an InstallAll run
type Summary struct {
	Tables   int      // Tables instrumented (all three triggers created)
	Triggers int      // Triggers created across all tables
	Failed   []string // Tables with at least one failed statement
	Skipped  []string // Excluded tables
}

// NewInstaller creates an Installer
func NewInstaller(config InstallerConfig) (*Installer, error) {
	if config.LogTable == "" {
		return nil, fmt.Errorf("log table is required")
	}

	inst := &Installer{
		logTable:       config.LogTable,
		exclude:        make([]glob.Glob, 0, len(config.ExcludeTables)),
		previewColumns: config.PreviewColumns,
		opts: RenderOptions{
			LogTable:           config.LogTable,
			PreviewValueLength: config.PreviewValueLength,
		},
	}

	for _, pattern := range config.ExcludeTables {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		inst.exclude = append(inst.exclude, g)
	}

	cache, err := lru.New[uint64, *Statements](renderCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}
	inst.cache = cache

	return inst, nil
}

// LogTable returns the activity log table name
func (i *Installer) LogTable() string {
	return i.logTable
}

// Excluded reports whether table must never be instrumented. The activity log
// table itself is always excluded so it cannot log its own inserts.
func (i *Installer) Excluded(table string) bool {
	if table == i.logTable {
		return true
	}
	for _, g := range i.exclude {
		if g.Match(table) {
			return true
		}
	}
	return false
}

// Statements returns rendered statements for ts, reusing a cached render
// when the snapshot is identical.
func (i *Installer) Statements(ts *schema.TableSchema) *Statements {
	key := i.snapshotKey(ts)
	if st, ok := i.cache.Get(key); ok {
		return st
	}
	st := Render(ts, i.opts)
	i.cache.Add(key, st)
	return st
}

// snapshotKey hashes everything Render depends on.
func (i *Installer) snapshotKey(ts *schema.TableSchema) uint64 {
	d := xxhash.New()
	write := func(s string) {
		d.WriteString(s)
		d.WriteString("\x00")
	}
	write(i.opts.LogTable)
	write(strconv.Itoa(i.opts.PreviewValueLength))
	write(ts.Schema)
	write(ts.Table)
	write(ts.IDColumn)
	for _, c := range ts.PreviewColumns {
		write(c)
	}
	return d.Sum64()
}

// Install drops then recreates the three triggers for ts and returns how many
// were created. Every statement is attempted; failures are joined.
func (i *Installer) Install(ctx context.Context, exec Execer, ts *schema.TableSchema) (int, error) {
	if i.Excluded(ts.Table) {
		return 0, fmt.Errorf("table %s is excluded from monitoring", ts.Table)
	}

	st := i.Statements(ts)

	var errs []error
	for _, stmt := range st.Drops {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, fmt.Errorf("drop: %w", err))
		}
	}

	created := 0
	for idx, stmt := range st.Creates {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, fmt.Errorf("create %s: %w", Name(ts.Table, Events[idx]), err))
			continue
		}
		created++
	}

	telemetry.TriggersInstalledTotal.With("success").Add(float64(created))
	if len(st.Creates)-created > 0 {
		telemetry.TriggersInstalledTotal.With("failed").Add(float64(len(st.Creates) - created))
	}

	return created, errors.Join(errs...)
}

// InstallAll instruments every table in tables that is not excluded.
// A failing table is logged and does not stop the remaining ones.
func (i *Installer) InstallAll(ctx context.Context, db DB, schemaName string, tables []string) Summary {
	var sum Summary

	for _, table := range tables {
		if i.Excluded(table) {
			sum.Skipped = append(sum.Skipped, table)
			continue
		}

		ts, err := schema.Introspect(ctx, db, schemaName, table, i.previewColumns)
		if err != nil {
			log.Warn().Err(err).Str("schema", schemaName).Str("table", table).Msg("Failed to introspect table")
			sum.Failed = append(sum.Failed, table)
			continue
		}

		n, err := i.Install(ctx, db, ts)
		sum.Triggers += n
		if err != nil {
			log.Warn().
				Err(err).
				Str("schema", schemaName).
				Str("table", table).
				Int("created", n).
				Msg("Failed to install triggers")
			sum.Failed = append(sum.Failed, table)
			continue
		}
		sum.Tables++

		log.Debug().
			Str("schema", schemaName).
			Str("table", table).
			Str("id_column", ts.IDColumn).
			Strs("preview", ts.PreviewColumns).
			Msg("Installed activity triggers")
	}

	return sum
}

// Uninstall drops the three triggers of table
func (i *Installer) Uninstall(ctx context.Context, exec Execer, schemaName, table string) error {
	var errs []error
	for _, name := range Names(table) {
		stmt := "DROP TRIGGER IF EXISTS " + schema.QualifiedName(schemaName, name)
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UninstallAll drops triggers from every non-excluded table in tables
func (i *Installer) UninstallAll(ctx context.Context, exec Execer, schemaName string, tables []string) error {
	var errs []error
	for _, table := range tables {
		if i.Excluded(table) {
			continue
		}
		if err := i.Uninstall(ctx, exec, schemaName, table); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
		}
	}
	return errors.Join(errs...)
}
