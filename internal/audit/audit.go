package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ids-guard/internal/model"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultRecentLimit = 100
	maxRecentLimit     = 1000

	// fixed width so that text ordering is time ordering
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

// Log records every firewall action taken during reconciliation.
type Log struct {
	db     *sql.DB
	driver string
}

// Open connects to the audit database and creates the table if needed. For
// sqlite3 the DSN is a file path.
func Open(driver, dsn string) (*Log, error) {
	switch driver {
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir audit dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	l := &Log{db: db, driver: driver}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reconciliations (
			id TEXT PRIMARY KEY,
			cycle_id TEXT NOT NULL,
			ip TEXT NOT NULL,
			action TEXT NOT NULL,
			source TEXT NOT NULL,
			ok INTEGER NOT NULL,
			message TEXT NOT NULL,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliations_ts ON reconciliations(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliations_ip ON reconciliations(ip)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

// RecordAction stores one action. Missing ID and timestamp are filled in.
func (l *Log) RecordAction(ctx context.Context, a model.FirewallAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	ok := 0
	if a.OK {
		ok = 1
	}
	_, err := l.db.ExecContext(ctx, l.rebind(`INSERT INTO reconciliations (id,cycle_id,ip,action,source,ok,message,ts) VALUES (?,?,?,?,?,?,?,?)`),
		a.ID, a.CycleID, a.IP, a.Action, a.Source, ok, a.Message, a.Timestamp.UTC().Format(tsLayout))
	return err
}

// Recent returns the latest actions, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]model.FirewallAction, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	rows, err := l.db.QueryContext(ctx, l.rebind(`SELECT id,cycle_id,ip,action,source,ok,message,ts FROM reconciliations ORDER BY ts DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.FirewallAction, 0, limit)
	for rows.Next() {
		var a model.FirewallAction
		var ok int
		var ts string
		if err := rows.Scan(&a.ID, &a.CycleID, &a.IP, &a.Action, &a.Source, &ok, &a.Message, &ts); err != nil {
			return nil, err
		}
		a.OK = ok == 1
		if a.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("bad timestamp %q in audit row %s: %w", ts, a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (l *Log) Close() error {
	return l.db.Close()
}

// rebind turns ? placeholders into $n for postgres.
func (l *Log) rebind(query string) string {
	if l.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
