package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/tablewatch/tablewatch/telemetry"
)

// Longest statement text carried in an event's details
const maxStatementPreview = 200

var dialect = goqu.Dialect("mysql")

// ProcessListPoller reports statements currently running against the
// monitored database, as seen in information_schema.PROCESSLIST
type ProcessListPoller struct {
	session    *Session
	sub        Subscriber
	registered func() bool
}

// NewProcessListPoller creates a ProcessListPoller; the session must carry a SeenSet
func NewProcessListPoller(session *Session, sub Subscriber, registered func() bool) *ProcessListPoller {
	return &ProcessListPoller{session: session, sub: sub, registered: registered}
}

func (p *ProcessListPoller) Mode() string { return "processlist" }

type process struct {
	ID   uint64
	User string
	Host string
	DB   sql.NullString
	Time int64
	Info string
}

func processListQuery() (string, []any, error) {
	return dialect.From(goqu.T("PROCESSLIST").Schema("information_schema")).
		Select("ID", "USER", "HOST", "DB", "TIME", "INFO").
		Where(
			goqu.C("COMMAND").Neq("Sleep"),
			goqu.C("INFO").IsNotNull(),
			goqu.C("ID").Neq(goqu.L("CONNECTION_ID()")),
		).
		Order(goqu.C("ID").Asc()).
		Prepared(true).
		ToSQL()
}

// Tick delivers each newly observed statement once
func (p *ProcessListPoller) Tick(ctx context.Context) (int, error) {
	query, args, err := processListQuery()
	if err != nil {
		return 0, fmt.Errorf("failed to build processlist query: %w", err)
	}

	start := time.Now()
	procs, err := p.fetch(ctx, query, args)
	telemetry.PollDurationSeconds.With(p.Mode()).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}

	if ctx.Err() != nil || !p.registered() {
		return 0, errStale
	}

	delivered := 0
	for _, proc := range procs {
		st, ok := p.relevant(proc)
		if !ok {
			continue
		}

		h := statementHash(proc.ID, proc.Info)
		if p.session.seen.Contains(h) {
			continue
		}

		deliver(p.sub, Event{
			ID:           p.session.nextSeq(),
			Type:         st.Operation,
			Table:        st.Table,
			RecordID:     strconv.FormatUint(proc.ID, 10),
			Details:      previewStatement(proc.Info),
			Timestamp:    time.Now(),
			ConnectionID: p.session.ConnectionID,
		})
		p.session.seen.Add(h)
		delivered++
	}
	return delivered, nil
}

func (p *ProcessListPoller) fetch(ctx context.Context, query string, args []any) ([]process, error) {
	rows, err := p.session.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processlist: %w", err)
	}
	defer rows.Close()

	var procs []process
	for rows.Next() {
		var proc process
		if err := rows.Scan(&proc.ID, &proc.User, &proc.Host, &proc.DB, &proc.Time, &proc.Info); err != nil {
			return nil, fmt.Errorf("failed to scan processlist row: %w", err)
		}
		procs = append(procs, proc)
	}
	return procs, rows.Err()
}

// relevant classifies proc and drops statements on system catalogs or on
// databases other than the monitored one
func (p *ProcessListPoller) relevant(proc process) (Statement, bool) {
	st, ok := Classify(proc.Info)
	if !ok {
		return Statement{}, false
	}

	target := st.Schema
	if target == "" {
		target = proc.DB.String
	}
	if target == "" || IsSystemSchema(target) {
		return Statement{}, false
	}
	return st, target == p.session.Database
}

func statementHash(pid uint64, stmt string) uint64 {
	return xxhash.Sum64String(strconv.FormatUint(pid, 10) + ":" + stmt)
}

func previewStatement(stmt string) string {
	if utf8.RuneCountInString(stmt) <= maxStatementPreview {
		return stmt
	}
	runes := []rune(stmt)
	return string(runes[:maxStatementPreview]) + "..."
}
