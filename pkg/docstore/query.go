package docstore

import (
	"context"
	"encoding/json"
)

type filterKind int

const (
	filterEq filterKind = iota
	filterContains
	filterAnyEq
)

type filter struct {
	kind  filterKind
	field string
	value string
}

// Result holds one page of query matches plus the total match count before
// pagination was applied.
type Result struct {
	Total int
	Docs  []json.RawMessage
}

type queryRunner interface {
	runQuery(ctx context.Context, q *Query) (Result, error)
}

// Query is a builder over a single collection. Field names refer to the JSON
// field names of the stored documents.
type Query struct {
	collection string
	filters    []filter
	skip       int
	take       int
	runner     queryRunner
}

func newQuery(collection string, runner queryRunner) *Query {
	return &Query{
		collection: collection,
		take:       -1,
		runner:     runner,
	}
}

// WhereEq filters on exact string equality of a field.
func (q *Query) WhereEq(field, value string) *Query {
	q.filters = append(q.filters, filter{kind: filterEq, field: field, value: value})
	return q
}

// WhereContains filters on a literal substring match of a string field.
func (q *Query) WhereContains(field, substr string) *Query {
	q.filters = append(q.filters, filter{kind: filterContains, field: field, value: substr})
	return q
}

// WhereAnyEq filters on membership of value in a string-array field.
func (q *Query) WhereAnyEq(field, value string) *Query {
	q.filters = append(q.filters, filter{kind: filterAnyEq, field: field, value: value})
	return q
}

// Skip offsets the result window.
func (q *Query) Skip(n int) *Query {
	q.skip = n
	return q
}

// Take limits the result window.
func (q *Query) Take(n int) *Query {
	q.take = n
	return q
}

// Run executes the query. Results are ordered by document key so pagination
// is stable across calls.
func (q *Query) Run(ctx context.Context) (Result, error) {
	return q.runner.runQuery(ctx, q)
}
