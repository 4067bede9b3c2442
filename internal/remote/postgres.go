package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/discoursegraphs/dgsync/internal/logging"
)

// Postgres is a Client backed by a Postgres database holding the backend
// schema and its stored functions.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
	d      dialect
}

// OpenPostgres connects to dsn.
func OpenPostgres(ctx context.Context, dsn string, logger *logging.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", mapPgError(err))
	}
	return &Postgres{
		pool:   pool,
		logger: logging.OrNop(logger).Named("remote.postgres"),
		d:      postgresDialect(),
	}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func postgresDialect() dialect {
	return dialect{
		quote:       func(ident string) string { return pgx.Identifier{ident}.Sanitize() },
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		in: func(col string, values []string, n int) (string, []interface{}) {
			return fmt.Sprintf("%s = ANY($%d)", col, n), []interface{}{values}
		},
		encode: func(v interface{}) (interface{}, error) { return v, nil },
	}
}

// mapPgError tags auth failures with ErrAuth and unique violations with
// ErrDuplicate.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch strings.TrimSpace(pgErr.Code) {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case "28000", "28P01", "42501": // invalid authorization, bad password, insufficient privilege
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case "42883": // undefined_function
		return fmt.Errorf("%w: %w", ErrUnknownRPC, err)
	}
	return err
}

func (p *Postgres) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	stmt, err := p.d.selectStmt(table, q)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, mapPgError(err))
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, mapPgError(err))
	}
	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

func (p *Postgres) Insert(ctx context.Context, table string, rows []Row) error {
	return p.exec(ctx, table, rows, nil)
}

func (p *Postgres) Upsert(ctx context.Context, table string, rows []Row, opts UpsertOptions) error {
	return p.exec(ctx, table, rows, &opts)
}

func (p *Postgres) exec(ctx context.Context, table string, rows []Row, opts *UpsertOptions) error {
	if len(rows) == 0 {
		return nil
	}
	stmts, err := p.d.insertStmts(table, rows, opts)
	if err != nil {
		return err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPgError(err))
	}
	defer tx.Rollback(ctx)

	if opts != nil && opts.IgnoreDuplicates {
		// A failed statement aborts the whole transaction, so each row gets
		// its own savepoint and only the duplicate is rolled back.
		skipped, err := execSkippingDuplicates(ctx, stmts, func(ctx context.Context, st statement) error {
			return execInSavepoint(ctx, tx, st)
		})
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", table, err)
		}
		if skipped > 0 {
			p.logger.Debug("Skipped duplicate rows", "table", table, "count", skipped)
		}
	} else {
		batch := &pgx.Batch{}
		for _, st := range stmts {
			batch.Queue(st.sql, st.args...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", table, mapPgError(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPgError(err))
	}
	return nil
}

// execSkippingDuplicates runs every statement, counting the ones that fail
// with ErrDuplicate and stopping at any other error.
func execSkippingDuplicates(ctx context.Context, stmts []statement, exec func(context.Context, statement) error) (int, error) {
	skipped := 0
	for _, st := range stmts {
		if err := exec(ctx, st); err != nil {
			if errors.Is(err, ErrDuplicate) {
				skipped++
				continue
			}
			return skipped, err
		}
	}
	return skipped, nil
}

// execInSavepoint runs st in a nested transaction, which pgx maps to a
// savepoint, and rolls back to it on failure.
func execInSavepoint(ctx context.Context, tx pgx.Tx, st statement) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", mapPgError(err))
	}
	if _, err := sp.Exec(ctx, st.sql, st.args...); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("failed to roll back to savepoint: %w", mapPgError(rbErr))
		}
		return mapPgError(err)
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", mapPgError(err))
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, table string, filters ...Filter) (int64, error) {
	stmt, err := p.d.deleteStmt(table, filters)
	if err != nil {
		return 0, err
	}
	tag, err := p.pool.Exec(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, mapPgError(err))
	}
	return tag.RowsAffected(), nil
}

// RPC calls the stored function name with named arguments. Composite
// arguments are sent as jsonb.
func (p *Postgres) RPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	stmt, err := rpcStatement(name, args)
	if err != nil {
		return nil, err
	}
	var out []byte
	if err := p.pool.QueryRow(ctx, stmt.sql, stmt.args...).Scan(&out); err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, mapPgError(err))
	}
	return json.RawMessage(out), nil
}

func rpcStatement(name string, args map[string]interface{}) (statement, error) {
	if err := checkIdent(name); err != nil {
		return statement{}, err
	}
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	if err := checkIdent(names...); err != nil {
		return statement{}, err
	}

	params := make([]string, len(names))
	values := make([]interface{}, len(names))
	for i, n := range names {
		v := args[n]
		ph := fmt.Sprintf("$%d", i+1)
		if isComposite(v) {
			data, err := json.Marshal(v)
			if err != nil {
				return statement{}, fmt.Errorf("failed to encode argument %s: %w", n, err)
			}
			v = string(data)
			ph += "::jsonb"
		}
		params[i] = pgx.Identifier{n}.Sanitize() + " => " + ph
		values[i] = v
	}
	sql := "SELECT to_jsonb(" + pgx.Identifier{name}.Sanitize() + "(" + strings.Join(params, ", ") + "))::text"
	return statement{sql: sql, args: values}, nil
}

func isComposite(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct, reflect.Array:
		_, isBytes := v.([]byte)
		return !isBytes
	}
	return false
}
