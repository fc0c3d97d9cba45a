package db

import (
	"fmt"
	"strings"
)

// ListQuery builds the filtered count and page queries used by list
// endpoints.
type ListQuery struct {
	table   string
	cols    string
	where   []string
	args    []any
	orderBy string
}

func NewListQuery(table, cols string) *ListQuery {
	return &ListQuery{table: table, cols: cols}
}

// Eq adds "column = $n".
func (q *ListQuery) Eq(column string, value any) *ListQuery {
	q.args = append(q.args, value)
	q.where = append(q.where, fmt.Sprintf("%s = $%d", column, len(q.args)))
	return q
}

// In adds "column = ANY($n)". An empty list matches nothing.
func (q *ListQuery) In(column string, values []string) *ListQuery {
	q.args = append(q.args, values)
	q.where = append(q.where, fmt.Sprintf("%s = ANY($%d)", column, len(q.args)))
	return q
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *ListQuery) OrderBy(orderBy string) *ListQuery {
	q.orderBy = orderBy
	return q
}

func (q *ListQuery) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *ListQuery) CountSQL() string {
	return "SELECT COUNT(*) FROM " + q.table + q.whereSQL()
}

func (q *ListQuery) CountArgs() []any { return q.args }

// DataSQL returns the page query; limit and offset are the last two args.
func (q *ListQuery) DataSQL() string {
	sql := "SELECT " + q.cols + " FROM " + q.table + q.whereSQL()
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(q.args)+1, len(q.args)+2)
}

func (q *ListQuery) DataArgs(limit, offset int) []any {
	out := make([]any, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}
