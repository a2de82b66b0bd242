package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/okian/ladder/internal/adapters/tunnel"
	"github.com/okian/ladder/internal/domain/model"
)

// SQLSTATE classes that indicate the server or the path to it, not the query.
var transientClasses = map[string]bool{
	"08": true, // connection exception
	"28": true, // invalid authorization
	"40": true, // transaction rollback (serialization, deadlock)
	"53": true, // insufficient resources
	"57": true, // operator intervention
	"58": true, // system error
}

// queryCanceled is raised by statement_timeout; rerunning the same
// statement would time out again.
const queryCanceled = "57014"

// classify wraps err with model.ErrConnection or model.ErrQuery. Caller
// cancellation and tunnel credential errors pass through unclassified so
// they stay fatal.
func classify(ctx context.Context, database string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", database, err)
	}
	if errors.Is(err, tunnel.ErrCredentials) {
		return fmt.Errorf("%s: %w", database, err)
	}
	return fmt.Errorf("%w: %s: %w", kind(err), database, err)
}

func kind(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == queryCanceled {
			return model.ErrQuery
		}
		if len(pgErr.Code) >= 2 && transientClasses[pgErr.Code[:2]] {
			return model.ErrConnection
		}
		return model.ErrQuery
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, tunnel.ErrTunnel),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return model.ErrConnection
	}
	if strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "broken pipe") {
		return model.ErrConnection
	}
	return model.ErrQuery
}
