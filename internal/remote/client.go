// Package remote is the table/RPC client for the discourse graph backend.
//
// Two backends implement Client: SQLite, a self-contained local mirror
// that emulates the backend RPCs in Go, and Postgres, which talks to a
// real database and calls its stored functions.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

var (
	// ErrAuth indicates the session is no longer valid.
	ErrAuth = errors.New("remote authentication failed")
	// ErrNotFound is returned by single-row helpers when nothing matches.
	ErrNotFound = errors.New("remote row not found")
	// ErrDuplicate marks a unique-key violation.
	ErrDuplicate = errors.New("duplicate key")
	// ErrUnknownRPC is returned for functions a backend does not provide.
	ErrUnknownRPC = errors.New("unknown rpc")
	// ErrInvalidIdentifier rejects table or column names that are not
	// plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Table and view names.
const (
	TableContent         = "Content"
	TableDocument        = "Document"
	TableConcept         = "Concept"
	TableSpace           = "Space"
	TablePlatformAccount = "PlatformAccount"
	TableFileReference   = "FileReference"
	TableGroupMembership = "group_membership"
	ViewMyContents       = "my_contents"
	ViewMyConcepts       = "my_concepts"
)

// RPC names.
const (
	RPCUpsertContent        = "upsert_content"
	RPCUpsertConcepts       = "upsert_concepts"
	RPCCreateAccountInSpace = "create_account_in_space"
)

// Row is a result or input row keyed by column.
type Row map[string]interface{}

// String returns the column as a string, or "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns the column as an int64, or 0.
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

// Time returns the column as a time. Text columns are parsed as RFC 3339.
func (r Row) Time(col string) time.Time {
	switch v := r[col].(type) {
	case time.Time:
		return v.UTC()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	default:
		return time.Time{}
	}
}

// Op is a filter comparison.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpIn
	OpGt
	OpNotNull
)

// Filter restricts a select or delete.
type Filter struct {
	Column string
	Op     Op
	Value  interface{}
}

// Eq matches column = value.
func Eq(col string, v interface{}) Filter { return Filter{Column: col, Op: OpEq, Value: v} }

// Neq matches column <> value.
func Neq(col string, v interface{}) Filter { return Filter{Column: col, Op: OpNeq, Value: v} }

// In matches column against a list of strings.
func In(col string, values []string) Filter { return Filter{Column: col, Op: OpIn, Value: values} }

// Gt matches column > value.
func Gt(col string, v interface{}) Filter { return Filter{Column: col, Op: OpGt, Value: v} }

// NotNull matches non-null columns.
func NotNull(col string) Filter { return Filter{Column: col, Op: OpNotNull} }

// Query describes a select.
type Query struct {
	Columns []string
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// UpsertOptions control conflict handling.
type UpsertOptions struct {
	// OnConflict lists the unique columns to match.
	OnConflict []string
	// IgnoreDuplicates leaves existing rows untouched.
	IgnoreDuplicates bool
}

// Client is the remote backend.
type Client interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows []Row) error
	Upsert(ctx context.Context, table string, rows []Row, opts UpsertOptions) error
	Delete(ctx context.Context, table string, filters ...Filter) (int64, error)
	// RPC calls a backend function with named arguments and returns its
	// JSON result.
	RPC(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
	Close() error
}

// SelectOne returns the first row of q, or ErrNotFound.
func SelectOne(ctx context.Context, c Client, table string, q Query) (Row, error) {
	q.Limit = 1
	rows, err := c.Select(ctx, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table, ErrNotFound)
	}
	return rows[0], nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

func checkFilters(filters []Filter) error {
	for _, f := range filters {
		if err := checkIdent(f.Column); err != nil {
			return err
		}
		if f.Op == OpIn {
			if _, ok := f.Value.([]string); !ok {
				return fmt.Errorf("in filter on %s needs []string, got %T", f.Column, f.Value)
			}
		}
	}
	return nil
}

// rowColumns returns the union of keys over rows in first-seen order, with
// each row's keys sorted for determinism.
func rowColumns(rows []Row) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	return cols
}
