// Package repository builds storage-agnostic queries from options.
package repository

import "fmt"

// Operator is the comparison a Condition applies. Its value is the SQL
// token the database layer emits.
type Operator string

// Supported operators.
const (
	OpEqual           Operator = "="
	OpNotEqual        Operator = "!="
	OpGreaterThan     Operator = ">"
	OpLessThan        Operator = "<"
	OpLessThanOrEqual Operator = "<="
	OpIn              Operator = "IN"
	OpNotIn           Operator = "NOT IN"
)

func (o Operator) String() string { return string(o) }

// Multi reports whether the operator compares against a list of values.
func (o Operator) Multi() bool { return o == OpIn || o == OpNotIn }

// Condition restricts a column by an operator and value.
type Condition struct {
	field    string
	operator Operator
	value    any
}

func (c Condition) Field() string      { return c.field }
func (c Condition) Operator() Operator { return c.operator }
func (c Condition) Value() any         { return c.value }

// In reports whether the value is a list (IN or NOT IN).
func (c Condition) In() bool { return c.operator.Multi() }

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.field, c.operator, c.value)
}

// Order sorts by a single column.
type Order struct {
	field     string
	ascending bool
}

func (o Order) Field() string   { return o.field }
func (o Order) Ascending() bool { return o.ascending }

// Query is the accumulated result of a set of options. The zero value
// matches every row in storage order.
type Query struct {
	conditions []Condition
	orders     []Order
	limit      int
	offset     int
}

// Option refines a Query.
type Option func(Query) Query

// Build folds options over an empty Query, left to right.
func Build(options ...Option) Query {
	var q Query
	for _, opt := range options {
		q = opt(q)
	}
	return q
}

// Conditions returns a copy of the conditions, all of which must hold.
func (q Query) Conditions() []Condition { return append([]Condition(nil), q.conditions...) }

// Orders returns a copy of the sort columns in priority order.
func (q Query) Orders() []Order { return append([]Order(nil), q.orders...) }

// LimitValue returns the row limit; zero is unbounded.
func (q Query) LimitValue() int { return q.limit }

// OffsetValue returns the number of rows skipped.
func (q Query) OffsetValue() int { return q.offset }

// WithWhere adds a condition with an explicit operator.
func WithWhere(field string, op Operator, value any) Option {
	return func(q Query) Query {
		q.conditions = append(q.conditions, Condition{field: field, operator: op, value: value})
		return q
	}
}

// WithCondition matches field = value, or field IS NULL for a nil value.
func WithCondition(field string, value any) Option {
	return WithWhere(field, OpEqual, value)
}

// WithConditionIn matches rows whose field is one of values.
func WithConditionIn(field string, values any) Option {
	return WithWhere(field, OpIn, values)
}

// WithKeyAfter matches rows whose key column is strictly greater than key.
func WithKeyAfter(column string, key int64) Option {
	return WithWhere(column, OpGreaterThan, key)
}

// WithKeyAtMost matches rows whose key column is at most key.
func WithKeyAtMost(column string, key int64) Option {
	return WithWhere(column, OpLessThanOrEqual, key)
}

// WithKeyOrder replaces any ordering collected so far with ascending key
// order and clears the offset. Chunked scans page by key rather than by
// position, so neither survives from the caller's filter.
func WithKeyOrder(column string) Option {
	return func(q Query) Query {
		q.orders = []Order{{field: column, ascending: true}}
		q.offset = 0
		return q
	}
}

func withOrder(field string, ascending bool) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, Order{field: field, ascending: ascending})
		return q
	}
}

// WithOrderAsc sorts ascending by field after any earlier orders.
func WithOrderAsc(field string) Option { return withOrder(field, true) }

// WithOrderDesc sorts descending by field after any earlier orders.
func WithOrderDesc(field string) Option { return withOrder(field, false) }

// WithLimit caps the number of rows returned.
func WithLimit(n int) Option {
	return func(q Query) Query {
		q.limit = n
		return q
	}
}

// WithOffset skips the first n rows.
func WithOffset(n int) Option {
	return func(q Query) Query {
		q.offset = n
		return q
	}
}

// WithPagination returns the limit and offset options for one page.
func WithPagination(limit, offset int) []Option {
	return []Option{WithLimit(limit), WithOffset(offset)}
}
