package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/sentinel"
)

// DefaultTable is used when New is given an empty table name.
const DefaultTable = "audit_entries"

const columns = `id, timestamp, method, path, query_string, request_body,
	response_body, status_code, response_time_ms, user_agent, remote_ip`

// Store implements audit.Store on PostgreSQL. Optional text fields are stored
// as NULL when empty.
type Store struct {
	db    *sql.DB
	table string // already quoted
	name  string
}

// New creates a store over db using table.
func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: pq.QuoteIdentifier(table), name: table}
}

// EnsureSchema creates the table and its indexes if they are missing. It is
// safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			id               TEXT PRIMARY KEY,
			timestamp        TIMESTAMPTZ NOT NULL,
			method           TEXT NOT NULL,
			path             TEXT NOT NULL,
			query_string     TEXT NULL,
			request_body     TEXT NULL,
			response_body    TEXT NULL,
			status_code      INT NOT NULL,
			response_time_ms BIGINT NOT NULL,
			user_agent       TEXT NULL,
			remote_ip        TEXT NULL
		)`,
		s.indexStmt("timestamp", "timestamp DESC"),
		s.indexStmt("method", "method"),
		s.indexStmt("path", "path"),
		s.indexStmt("status_code", "status_code"),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}

func (s *Store) indexStmt(suffix, expr string) string {
	name := pq.QuoteIdentifier("idx_" + s.name + "_" + suffix)
	return `CREATE INDEX IF NOT EXISTS ` + name + ` ON ` + s.table + ` (` + expr + `)`
}

// Insert writes entry. Duplicate ids are ignored via ON CONFLICT DO NOTHING,
// which makes broker redelivery harmless. NUL bytes are dropped from text
// columns since PostgreSQL text cannot hold them. Data and constraint errors
// are wrapped with audit.ErrRejected.
func (s *Store) Insert(ctx context.Context, e audit.AuditEntry) error {
	query := `INSERT INTO ` + s.table + ` (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Timestamp.UTC(),
		e.Method,
		stripNUL(e.Path),
		nullString(e.QueryString),
		nullString(e.RequestBody),
		nullString(e.ResponseBody),
		e.StatusCode,
		e.ResponseTimeMs,
		nullString(e.UserAgent),
		nullString(e.RemoteIP),
	)
	if err != nil {
		if rejected(err) {
			err = audit.Wrap(audit.ErrRejected, err)
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// rejected reports whether err is a data exception (class 22) or an
// integrity violation (class 23), both tied to the row rather than the
// connection.
func rejected(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	class := pqErr.Code.Class()
	return class == "22" || class == "23"
}

// Count returns the number of entries matching filter.
func (s *Store) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	where, args := buildWhere(filter)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// CountAll returns the total number of stored entries.
func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// Find returns one page of matching entries, newest first.
func (s *Store) Find(ctx context.Context, filter audit.Filter, offset, limit int) ([]audit.AuditEntry, error) {
	if offset < 0 {
		return nil, fmt.Errorf("query audit entries: negative offset %d", offset)
	}
	where, args := buildWhere(filter)
	n := len(args)
	query := `SELECT ` + columns + ` FROM ` + s.table + where +
		` ORDER BY timestamp DESC, id DESC` +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]audit.AuditEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// FindByID returns the entry with id or an error wrapping sentinel.ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (audit.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM `+s.table+` WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.AuditEntry{}, fmt.Errorf("audit entry %s: %w", id, sentinel.ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (audit.AuditEntry, error) {
	var (
		e                                 audit.AuditEntry
		query, reqBody, respBody, ua, rip sql.NullString
		ts                                time.Time
	)
	err := row.Scan(
		&e.ID,
		&ts,
		&e.Method,
		&e.Path,
		&query,
		&reqBody,
		&respBody,
		&e.StatusCode,
		&e.ResponseTimeMs,
		&ua,
		&rip,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.AuditEntry{}, err
		}
		return audit.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	e.Timestamp = ts.UTC()
	e.QueryString = query.String
	e.RequestBody = reqBody.String
	e.ResponseBody = respBody.String
	e.UserAgent = ua.String
	e.RemoteIP = rip.String
	return e, nil
}

// buildWhere mirrors audit.Filter.Matches in SQL.
func buildWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Method != "" {
		conds = append(conds, "method = "+next(f.Method))
	}
	if f.StatusCode != nil {
		conds = append(conds, "status_code = "+next(*f.StatusCode))
	}
	if f.StartDate != nil {
		conds = append(conds, "timestamp >= "+next(f.StartDate.UTC()))
	}
	if f.EndDate != nil {
		conds = append(conds, "timestamp <= "+next(f.EndDate.UTC()))
	}
	if f.SearchTerm != "" {
		p := next("%" + escapeLike(f.SearchTerm) + "%")
		conds = append(conds, "(path ILIKE "+p+
			" OR query_string ILIKE "+p+
			" OR request_body ILIKE "+p+
			" OR response_body ILIKE "+p+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes the search term match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullString(s string) sql.NullString {
	s = stripNUL(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
