package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/discoursegraphs/dgsync/internal/logging"
)

// SQLite is a Client backed by an embedded SQLite database. It mirrors the
// backend tables and emulates the RPCs the sync core calls, so a vault can
// sync without network access.
type SQLite struct {
	conn   *sql.DB
	path   string
	logger *logging.Logger
	d      dialect
}

// OpenSQLite opens or creates the database at path and initializes the
// schema. The caller must call Close.
func OpenSQLite(path string, logger *logging.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_txlock=immediate", filepath.ToSlash(path))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{
		conn:   conn,
		path:   path,
		logger: logging.OrNop(logger).Named("remote.sqlite"),
		d:      sqliteDialect(),
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// RawDB returns the underlying connection pool.
func (s *SQLite) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the database.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("Failed to checkpoint WAL", "error", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS "Space" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT 'Obsidian'
	);

	CREATE TABLE IF NOT EXISTS "PlatformAccount" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		space_id INTEGER NOT NULL,
		account_local_id TEXT NOT NULL,
		name TEXT,
		email TEXT,
		UNIQUE (space_id, account_local_id)
	);

	CREATE TABLE IF NOT EXISTS "Document" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		space_id INTEGER NOT NULL,
		source_local_id TEXT NOT NULL,
		author_id INTEGER,
		created TEXT,
		last_modified TEXT,
		metadata TEXT,
		UNIQUE (space_id, source_local_id)
	);

	CREATE TABLE IF NOT EXISTS "Content" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER,
		space_id INTEGER NOT NULL,
		source_local_id TEXT NOT NULL,
		variant TEXT NOT NULL DEFAULT 'direct',
		author_id INTEGER,
		creator_id INTEGER,
		created TEXT,
		last_modified TEXT,
		text TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		scale TEXT NOT NULL DEFAULT 'document',
		embedding_model TEXT,
		embedding TEXT,  -- JSON array
		part_of_id INTEGER,
		UNIQUE (space_id, source_local_id, variant)
	);

	CREATE TABLE IF NOT EXISTS "Concept" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		space_id INTEGER NOT NULL,
		source_local_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT,
		is_schema INTEGER NOT NULL DEFAULT 0,
		arity INTEGER NOT NULL DEFAULT 0,
		author_id INTEGER,
		created TEXT,
		last_modified TEXT,
		literal_content TEXT,            -- JSON object
		local_reference_content TEXT,    -- JSON object, local ids
		reference_content TEXT,          -- JSON object, row ids
		schema_represented_by_local_id TEXT,
		schema_id INTEGER,
		UNIQUE (space_id, source_local_id)
	);

	CREATE TABLE IF NOT EXISTS "FileReference" (
		space_id INTEGER NOT NULL,
		source_local_id TEXT NOT NULL,
		filepath TEXT NOT NULL,
		filehash TEXT NOT NULL DEFAULT '',
		created TEXT,
		last_modified TEXT,
		PRIMARY KEY (space_id, source_local_id, filepath)
	);

	CREATE TABLE IF NOT EXISTS group_membership (
		group_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		PRIMARY KEY (group_id, member_id)
	);

	CREATE VIEW IF NOT EXISTS my_contents AS SELECT * FROM "Content";
	CREATE VIEW IF NOT EXISTS my_concepts AS SELECT * FROM "Concept";

	CREATE INDEX IF NOT EXISTS idx_content_modified ON "Content"(space_id, last_modified);
	CREATE INDEX IF NOT EXISTS idx_concept_modified ON "Concept"(space_id, is_schema, last_modified);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func sqliteDialect() dialect {
	return dialect{
		quote:       func(ident string) string { return `"` + ident + `"` },
		placeholder: func(int) string { return "?" },
		in: func(col string, values []string, _ int) (string, []interface{}) {
			args := make([]interface{}, len(values))
			for i, v := range values {
				args[i] = v
			}
			return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ") + ")", args
		},
		encode: encodeSQLiteValue,
	}
}

// encodeSQLiteValue stores times as fixed-width text and composite values
// as JSON text.
func encodeSQLiteValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil, string, int, int32, int64, float32, float64, []byte:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return FormatTime(x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return FormatTime(*x), nil
	case json.RawMessage:
		return string(x), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Struct, reflect.Array:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T: %w", v, err)
		}
		return string(data), nil
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeSQLiteValue(rv.Elem().Interface())
	}
	return v, nil
}

func isSQLiteDuplicate(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY)
}

func (s *SQLite) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	stmt, err := s.d.selectStmt(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return out, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) Insert(ctx context.Context, table string, rows []Row) error {
	return s.exec(ctx, table, rows, nil)
}

func (s *SQLite) Upsert(ctx context.Context, table string, rows []Row, opts UpsertOptions) error {
	return s.exec(ctx, table, rows, &opts)
}

func (s *SQLite) exec(ctx context.Context, table string, rows []Row, opts *UpsertOptions) error {
	if len(rows) == 0 {
		return nil
	}
	stmts, err := s.d.insertStmts(table, rows, opts)
	if err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.sql, st.args...); err != nil {
			if isSQLiteDuplicate(err) {
				if opts != nil && opts.IgnoreDuplicates {
					continue
				}
				return fmt.Errorf("failed to write %s: %w: %w", table, ErrDuplicate, err)
			}
			return fmt.Errorf("failed to write %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, table string, filters ...Filter) (int64, error) {
	stmt, err := s.d.deleteStmt(table, filters)
	if err != nil {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return n, nil
}

// RPC runs the Go emulation of a backend function. Arguments are
// round-tripped through JSON so callers see the same decoding as over the
// wire.
func (s *SQLite) RPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s arguments: %w", name, err)
	}

	var result interface{}
	switch name {
	case RPCUpsertContent:
		result, err = s.upsertContent(ctx, raw)
	case RPCUpsertConcepts:
		result, err = s.upsertConcepts(ctx, raw)
	case RPCCreateAccountInSpace:
		result, err = s.createAccountInSpace(ctx, raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRPC, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	return out, nil
}
