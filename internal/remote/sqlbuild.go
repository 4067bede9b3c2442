package remote

import (
	"fmt"
	"strings"
)

// dialect holds the few places where SQLite and Postgres SQL differ.
type dialect struct {
	quote       func(ident string) string
	placeholder func(n int) string
	// in renders "col IN list" starting at placeholder n and returns the
	// clause with its arguments.
	in     func(col string, values []string, n int) (string, []interface{})
	encode func(v interface{}) (interface{}, error)
}

type statement struct {
	sql  string
	args []interface{}
}

func (d dialect) where(filters []Filter, args []interface{}) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", args, nil
	}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		col := d.quote(f.Column)
		switch f.Op {
		case OpIn:
			values := f.Value.([]string)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			clause, inArgs := d.in(col, values, len(args)+1)
			clauses = append(clauses, clause)
			args = append(args, inArgs...)
			continue
		case OpNotNull:
			clauses = append(clauses, col+" IS NOT NULL")
			continue
		}

		v, err := d.encode(f.Value)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
		ph := d.placeholder(len(args))
		switch f.Op {
		case OpEq:
			clauses = append(clauses, col+" = "+ph)
		case OpNeq:
			clauses = append(clauses, col+" <> "+ph)
		case OpGt:
			clauses = append(clauses, col+" > "+ph)
		default:
			return "", nil, fmt.Errorf("unsupported filter op %d", f.Op)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (d dialect) selectStmt(table string, q Query) (statement, error) {
	if err := checkIdent(table); err != nil {
		return statement{}, err
	}
	if err := checkIdent(q.Columns...); err != nil {
		return statement{}, err
	}
	if err := checkFilters(q.Filters); err != nil {
		return statement{}, err
	}

	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = d.quote(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	where, args, err := d.where(q.Filters, nil)
	if err != nil {
		return statement{}, err
	}
	sql := "SELECT " + cols + " FROM " + d.quote(table) + where
	if q.OrderBy != "" {
		if err := checkIdent(q.OrderBy); err != nil {
			return statement{}, err
		}
		sql += " ORDER BY " + d.quote(q.OrderBy)
		if q.Desc {
			sql += " DESC"
		}
	}
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return statement{sql: sql, args: args}, nil
}

func (d dialect) deleteStmt(table string, filters []Filter) (statement, error) {
	if err := checkIdent(table); err != nil {
		return statement{}, err
	}
	if len(filters) == 0 {
		return statement{}, fmt.Errorf("refusing to delete from %s without filters", table)
	}
	if err := checkFilters(filters); err != nil {
		return statement{}, err
	}
	where, args, err := d.where(filters, nil)
	if err != nil {
		return statement{}, err
	}
	return statement{sql: "DELETE FROM " + d.quote(table) + where, args: args}, nil
}

// insertStmts renders one INSERT per row. conflict is appended verbatim
// when set.
func (d dialect) insertStmts(table string, rows []Row, opts *UpsertOptions) ([]statement, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	cols := rowColumns(rows)
	if err := checkIdent(cols...); err != nil {
		return nil, err
	}
	if opts != nil {
		if err := checkIdent(opts.OnConflict...); err != nil {
			return nil, err
		}
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
	}
	conflict := ""
	if opts != nil {
		conflict = d.conflictClause(cols, *opts)
	}

	stmts := make([]statement, 0, len(rows))
	for _, r := range rows {
		var (
			rowCols []string
			phs     []string
			args    []interface{}
		)
		for i, c := range cols {
			v, present := r[c]
			if !present {
				continue
			}
			enc, err := d.encode(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c, err)
			}
			args = append(args, enc)
			rowCols = append(rowCols, quoted[i])
			phs = append(phs, d.placeholder(len(args)))
		}
		sql := "INSERT INTO " + d.quote(table) + " (" + strings.Join(rowCols, ", ") + ") VALUES (" + strings.Join(phs, ", ") + ")" + conflict
		stmts = append(stmts, statement{sql: sql, args: args})
	}
	return stmts, nil
}

func (d dialect) conflictClause(cols []string, opts UpsertOptions) string {
	target := ""
	if len(opts.OnConflict) > 0 {
		quoted := make([]string, len(opts.OnConflict))
		for i, c := range opts.OnConflict {
			quoted[i] = d.quote(c)
		}
		target = " (" + strings.Join(quoted, ", ") + ")"
	}
	if opts.IgnoreDuplicates || len(opts.OnConflict) == 0 {
		return " ON CONFLICT" + target + " DO NOTHING"
	}

	key := make(map[string]bool, len(opts.OnConflict))
	for _, c := range opts.OnConflict {
		key[c] = true
	}
	var sets []string
	for _, c := range cols {
		if key[c] || c == "id" {
			continue
		}
		sets = append(sets, d.quote(c)+" = excluded."+d.quote(c))
	}
	if len(sets) == 0 {
		return " ON CONFLICT" + target + " DO NOTHING"
	}
	return " ON CONFLICT" + target + " DO UPDATE SET " + strings.Join(sets, ", ")
}
