// Package service runs the leaderboard pipeline: extract, normalize,
// resolve identities, filter, adjust, score, rank and emit.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/ladder/internal/adapters/source"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/internal/domain/exclusion"
	"github.com/okian/ladder/internal/domain/identity"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/ranking"
	"github.com/okian/ladder/internal/domain/reconcile"
	"github.com/okian/ladder/internal/domain/scoring"
	"github.com/okian/ladder/internal/domain/snapshot"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Sink persists a table at a destination.
type Sink interface {
	Write(ctx context.Context, t model.Table, dest string) error
}

// Summary describes a finished run.
type Summary struct {
	RunID string
	// ShortCircuit names the stage that produced no data, if any.
	ShortCircuit string
	Phase        identity.Phase

	Fetched  int
	Records  int
	Eligible int
	Excluded int
	Ranked   int

	Result   string
	Duration time.Duration
}

// Pipeline runs one leaderboard computation. Stages run strictly in
// sequence and each works on copies of the previous stage's output.
type Pipeline struct {
	cfg     config.Config
	queries config.QueryText
	policy  reconcile.Policy

	source    source.Source
	sink      Sink
	artifacts model.ArtifactReader
	resolver  *identity.Resolver
	scorer    *scoring.Scorer

	logger logger.Logger
	now    func() time.Time
}

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSource sets the query source for both logical databases.
func WithSource(s source.Source) Option {
	return func(p *Pipeline) {
		p.source = s
	}
}

// WithSink sets where tables are written.
func WithSink(s Sink) Option {
	return func(p *Pipeline) {
		p.sink = s
	}
}

// WithArtifacts sets the reader for the blacklist and snapshot.
func WithArtifacts(r model.ArtifactReader) Option {
	return func(p *Pipeline) {
		p.artifacts = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New builds a Pipeline from cfg and the query text read for it.
func New(cfg config.Config, queries config.QueryText, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:     cfg,
		queries: queries,
		logger:  logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.source == nil || p.sink == nil || p.artifacts == nil {
		return nil, ErrMissingDependency
	}

	policy, err := reconcile.ParsePolicy(cfg.JoinPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	p.policy = policy

	p.resolver, err = identity.New(p.source, queries.Identity,
		identity.WithDatabase(source.Identity),
		identity.WithMaxParams(cfg.MaxParams),
		identity.WithFallbackQuery(queries.IdentityAll),
		identity.WithLogger(p.logger.Named("identity")),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	p.scorer = scoring.New(scoring.WithTierWeights(cfg.Weights()))
	return p, nil
}

// Run executes the pipeline once. Empty intermediate data is not an error:
// the result is written with its header only and the summary names the
// stage that emptied.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := p.now()
	sum := Summary{RunID: uuid.NewString(), Result: p.cfg.Output.Result}
	log := p.logger.With(logger.String("run_id", sum.RunID))
	log.Info(ctx, "run started", logger.String("join_policy", string(p.policy)), logger.Int("top_n", p.cfg.TopN))

	var activity model.Table
	err := p.stage("extract", func() error {
		var err error
		activity, err = p.source.Fetch(ctx, source.Activity, p.queries.Activity)
		if err != nil {
			return fmt.Errorf("fetch activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return sum, err
	}
	sum.Fetched = activity.Len()

	if dump := p.cfg.Output.RawDump; dump != "" {
		if err := p.sink.Write(ctx, activity, dump); err != nil {
			return sum, fmt.Errorf("raw dump: %w", err)
		}
	}

	records, stats, err := reconcile.Records(activity)
	if err != nil {
		return sum, err
	}
	sum.Records = len(records)
	if stats.Duplicates > 0 || stats.EmptyIDs > 0 || stats.BadValues > 0 {
		log.Warn(ctx, "activity rows skipped or coerced",
			logger.Int("duplicates", stats.Duplicates),
			logger.Int("empty_ids", stats.EmptyIDs),
			logger.Int("bad_values", stats.BadValues),
		)
	}
	if len(records) == 0 {
		return p.shortCircuit(ctx, log, sum, start, "extract")
	}

	res, err := p.resolver.Resolve(ctx, reconcile.IDs(records))
	if err != nil {
		return sum, fmt.Errorf("resolve identities: %w", err)
	}
	sum.Phase = res.Phase

	excluded := exclusion.Load(ctx, p.artifacts, p.cfg.BlacklistFile, log.Named("blacklist"))
	adjustments := snapshot.Load(ctx, p.artifacts, p.cfg.SnapshotFile, log.Named("snapshot"))

	done := p.timed("join")
	joined, js := reconcile.Join(records, res.Names, excluded, p.policy)
	done()
	sum.Excluded = js.Excluded
	log.Info(ctx, "records joined",
		logger.Int("kept", len(joined)),
		logger.Int("ineligible", js.Ineligible),
		logger.Int("defaulted", js.Defaulted),
		logger.Int("excluded", js.Excluded),
	)
	sum.Eligible = len(joined)
	if len(joined) == 0 {
		return p.shortCircuit(ctx, log, sum, start, "join")
	}

	var table model.Table
	err = p.stage("rank", func() error {
		adjusted := adjustments.Apply(joined, p.cfg.ClampNegative)
		ranked, err := ranking.Rank(p.scorer.ScoreAll(adjusted), p.cfg.TieBreakers, p.cfg.TopN)
		if err != nil {
			return err
		}
		sum.Ranked = len(ranked)
		table = ranking.Table(ranked)
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("rank: %w", err)
	}

	if err := p.sink.Write(ctx, table, p.cfg.Output.Result); err != nil {
		return sum, fmt.Errorf("write result: %w", err)
	}
	return p.finish(ctx, log, sum, start), nil
}

func (p *Pipeline) shortCircuit(ctx context.Context, log logger.Logger, sum Summary, start time.Time, stage string) (Summary, error) {
	sum.ShortCircuit = stage
	metrics.RecordShortCircuit()
	log.Warn(ctx, "no data left, writing empty leaderboard", logger.String("stage", stage))
	if err := p.sink.Write(ctx, ranking.Header(), p.cfg.Output.Result); err != nil {
		return sum, fmt.Errorf("write result: %w", err)
	}
	return p.finish(ctx, log, sum, start), nil
}

func (p *Pipeline) finish(ctx context.Context, log logger.Logger, sum Summary, start time.Time) Summary {
	end := p.now()
	sum.Duration = end.Sub(start)
	metrics.UpdateRankedEntries(sum.Ranked)
	metrics.MarkSuccess(end, sum.Duration)
	log.Info(ctx, "run complete",
		logger.Int("fetched", sum.Fetched),
		logger.Int("records", sum.Records),
		logger.Int("eligible", sum.Eligible),
		logger.Int("ranked", sum.Ranked),
		logger.String("result", sum.Result),
		logger.Duration("took", sum.Duration),
	)
	return sum
}

func (p *Pipeline) stage(name string, fn func() error) error {
	defer p.timed(name)()
	return fn()
}

// timed starts a stage timer; calling the result records the duration.
func (p *Pipeline) timed(name string) func() {
	start := time.Now()
	return func() { metrics.RecordStageDuration(name, time.Since(start)) }
}
