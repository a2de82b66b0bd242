// Package identity resolves subject ids to eligible display names.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/okian/ladder/internal/domain/dedupe"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/schema"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Default resolver configuration constants.
const (
	defaultDatabase  = "identity"
	defaultMaxParams = 1000
	// MaxParams is the PostgreSQL bind parameter limit per statement.
	MaxParams = 65535
)

// Placeholder marks where the id list goes in the filtered query.
const Placeholder = ":ids"

var placeholderRE = regexp.MustCompile(`(^|[^:])` + Placeholder + `\b`)

// Phase names the strategy that produced a Result.
type Phase string

// Resolution phases.
const (
	// Filtered means the identity source filtered by id server side.
	Filtered Phase = "filtered"
	// Unfiltered means the full identity set was fetched and filtered here.
	Unfiltered Phase = "fallback"
)

// Fetcher runs a query against a logical database.
type Fetcher interface {
	Fetch(ctx context.Context, database, query string, params ...any) (model.Table, error)
}

// Result is the outcome of a resolution.
type Result struct {
	// Names maps each eligible subject id to its display name.
	Names map[string]string
	// Entries lists the eligible subjects in the order they were requested.
	Entries []model.IdentityEntry
	Phase   Phase
	Chunks  int
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithMaxParams caps the ids sent per query. Values outside 1..MaxParams
// are ignored.
func WithMaxParams(n int) Option {
	return func(r *Resolver) {
		if n > 0 && n <= MaxParams {
			r.maxParams = n
		}
	}
}

// WithFallbackQuery sets the unfiltered identity query used when the
// filtered one cannot run. Without it there is no fallback.
func WithFallbackQuery(q string) Option {
	return func(r *Resolver) {
		r.allQuery = strings.TrimSpace(q)
	}
}

// WithDatabase sets the logical database queried.
func WithDatabase(name string) Option {
	return func(r *Resolver) {
		if name != "" {
			r.database = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver looks up eligible identities in bounded batches. The first phase
// sends the ids to the source and lets it filter. When that fails with a
// connection or query error, and a fallback query is configured, the second
// phase fetches every eligible identity and filters locally. Schema errors
// never trigger the fallback.
type Resolver struct {
	fetcher   Fetcher
	query     string
	allQuery  string
	database  string
	maxParams int
	logger    logger.Logger
}

// New creates a Resolver. query must contain the :ids placeholder.
func New(f Fetcher, query string, opts ...Option) (*Resolver, error) {
	if f == nil {
		return nil, ErrNoFetcher
	}
	if !placeholderRE.MatchString(query) {
		return nil, fmt.Errorf("%w: %s", ErrPlaceholder, Placeholder)
	}
	r := &Resolver{
		fetcher:   f,
		query:     query,
		database:  defaultDatabase,
		maxParams: defaultMaxParams,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Expand replaces the :ids placeholder with n positional parameters.
func Expand(query string, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i))
	}
	if n == 0 {
		b.WriteString("NULL")
	}
	list := b.String()
	// The match carries the character before the placeholder; keep it.
	return placeholderRE.ReplaceAllStringFunc(query, func(m string) string {
		return strings.TrimSuffix(m, Placeholder) + list
	})
}

// Chunks splits ids into consecutive slices of at most size elements.
func Chunks(ids []string, size int) [][]string {
	if size <= 0 {
		size = defaultMaxParams
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

// Resolve returns the eligible subset of ids. Blank and repeated ids are
// ignored. An id the source does not return is ineligible, not an error.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (Result, error) {
	start := time.Now()
	defer func() { metrics.RecordStageDuration("identity", time.Since(start)) }()

	wanted := dedupe.New(len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			wanted.SeenAndRecord(id)
		}
	}
	if wanted.Size() == 0 {
		return Result{Names: map[string]string{}, Phase: Filtered}, nil
	}

	names, chunks, err := r.filtered(ctx, wanted)
	phase := Filtered
	if err != nil {
		if !r.canFallBack(err) {
			return Result{}, err
		}
		metrics.RecordIdentityFallback()
		r.logger.Warn(ctx, "filtered identity lookup failed, fetching all identities",
			logger.Int("chunks_done", chunks),
			logger.Error(err),
		)
		names, err = r.unfiltered(ctx, wanted)
		if err != nil {
			return Result{}, fmt.Errorf("identity fallback: %w", err)
		}
		phase = Unfiltered
	}

	res := Result{Names: names, Phase: phase, Chunks: chunks, Entries: entries(wanted, names)}
	r.logger.Info(ctx, "identities resolved",
		logger.String("phase", string(phase)),
		logger.Int("requested", wanted.Size()),
		logger.Int("eligible", len(res.Entries)),
		logger.Int("chunks", chunks),
	)
	return res, nil
}

func (r *Resolver) canFallBack(err error) bool {
	if r.allQuery == "" {
		return false
	}
	var se *schema.Error
	if errors.As(err, &se) {
		return false
	}
	return errors.Is(err, model.ErrQuery) || errors.Is(err, model.ErrConnection)
}

func (r *Resolver) filtered(ctx context.Context, wanted *dedupe.Ordinals) (map[string]string, int, error) {
	names := make(map[string]string, wanted.Size())
	done := 0
	for _, chunk := range Chunks(wanted.IDs(), r.maxParams) {
		params := make([]any, len(chunk))
		for i, id := range chunk {
			params[i] = id
		}
		t, err := r.fetcher.Fetch(ctx, r.database, Expand(r.query, len(chunk)), params...)
		if err != nil {
			return nil, done, fmt.Errorf("identity chunk %d: %w", done+1, err)
		}
		if err := collect(t, wanted, names); err != nil {
			return nil, done, err
		}
		done++
		metrics.RecordIdentityChunk()
		r.logger.Debug(ctx, "identity chunk resolved",
			logger.Int("chunk", done),
			logger.Int("ids", len(chunk)),
			logger.Int("rows", t.Len()),
		)
	}
	return names, done, nil
}

func (r *Resolver) unfiltered(ctx context.Context, wanted *dedupe.Ordinals) (map[string]string, error) {
	t, err := r.fetcher.Fetch(ctx, r.database, r.allQuery)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, wanted.Size())
	if err := collect(t, wanted, names); err != nil {
		return nil, err
	}
	return names, nil
}

// collect adds rows of t whose id was requested. The first row seen for an
// id wins.
func collect(t model.Table, wanted *dedupe.Ordinals, names map[string]string) error {
	m, err := schema.Normalize(t.Columns, schema.SubjectID, schema.DisplayName)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	for _, row := range t.Rows {
		id, _ := m.Get(row, schema.SubjectID)
		if _, ok := wanted.Ordinal(id); !ok {
			continue
		}
		if _, dup := names[id]; dup {
			continue
		}
		name, _ := m.Get(row, schema.DisplayName)
		names[id] = name
	}
	return nil
}

// entries orders the resolved names by the ordinal each id had in the input.
func entries(wanted *dedupe.Ordinals, names map[string]string) []model.IdentityEntry {
	out := make([]model.IdentityEntry, 0, len(names))
	for _, id := range wanted.IDs() {
		if name, ok := names[id]; ok {
			out = append(out, model.IdentityEntry{SubjectID: id, DisplayName: name})
		}
	}
	return out
}
