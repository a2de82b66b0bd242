// Package source defines the query source contract and a retrying wrapper.
package source

import (
	"context"

	"github.com/okian/ladder/internal/domain/model"
)

// Logical database names.
const (
	Activity = "activity"
	Identity = "identity"
)

// Source executes a query against a logical database and returns the full
// result. Failures wrap model.ErrConnection or model.ErrQuery.
type Source interface {
	Fetch(ctx context.Context, database, query string, params ...any) (model.Table, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, database, query string, params ...any) (model.Table, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, database, query string, params ...any) (model.Table, error) {
	return f(ctx, database, query, params...)
}
