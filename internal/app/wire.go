package service

import (
	"context"
	"errors"

	"github.com/okian/ladder/internal/adapters/artifact"
	"github.com/okian/ladder/internal/adapters/sink"
	"github.com/okian/ladder/internal/adapters/source"
	"github.com/okian/ladder/internal/adapters/source/postgres"
	"github.com/okian/ladder/internal/adapters/tunnel"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Endpoints maps the configured sources to postgres endpoints keyed by
// logical database.
func Endpoints(cfg config.Config) map[string]postgres.Endpoint {
	return map[string]postgres.Endpoint{
		source.Activity: endpoint(cfg.Activity),
		source.Identity: endpoint(cfg.Identity),
	}
}

func endpoint(s config.Source) postgres.Endpoint {
	return postgres.Endpoint{
		DSN:              s.DSN,
		Host:             s.Host,
		Port:             s.Port,
		Name:             s.Name,
		User:             s.User,
		Password:         s.Password,
		SSLMode:          s.SSLMode,
		SearchPath:       s.SearchPath,
		StatementTimeout: s.StatementTimeout(),
		ConnectTimeout:   s.ConnectTimeout(),
		Tunnel: tunnel.Config{
			Enabled:        s.Tunnel.Enabled,
			Host:           s.Tunnel.Host,
			Port:           s.Tunnel.Port,
			User:           s.Tunnel.User,
			PrivateKey:     s.Tunnel.PrivateKey,
			PrivateKeyFile: s.Tunnel.PrivateKeyFile,
			KnownHostsFile: s.Tunnel.KnownHostsFile,
		},
	}
}

// FromConfig assembles a Pipeline backed by PostgreSQL, CSV side artifacts
// and file output. The returned close function releases every connection
// and tunnel and must be called on all exit paths.
func FromConfig(cfg config.Config, log logger.Logger) (*Pipeline, func() error, error) {
	if log == nil {
		log = logger.Nop()
	}
	queries, err := cfg.ReadQueries()
	if err != nil {
		return nil, nil, err
	}

	pg := postgres.New(Endpoints(cfg),
		postgres.WithLogger(log.Named("postgres")),
		postgres.WithTunnelProvider(tunnel.NewProvider(tunnel.WithLogger(log.Named("tunnel")))),
	)
	src := source.NewRetrying(pg,
		source.WithAttempts(cfg.Retry.Attempts),
		source.WithDelay(cfg.Retry.Delay()),
		source.WithLogger(log.Named("source")),
	)

	p, err := New(cfg, queries,
		WithLogger(log.Named("pipeline")),
		WithSource(src),
		WithSink(sink.New(sink.WithLogger(log.Named("sink")))),
		WithArtifacts(artifact.NewCSV(artifact.WithLogger(log.Named("artifact")))),
	)
	if err != nil {
		return nil, nil, errors.Join(err, pg.Close())
	}
	return p, pg.Close, nil
}

// ExportMetrics pushes run metrics to a Pushgateway and writes them to a
// textfile, each when configured. Failures are logged and returned joined.
func ExportMetrics(ctx context.Context, m config.Metrics, log logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	var errs []error
	if m.PushURL != "" {
		if err := metrics.Push(ctx, m.PushURL, m.Job); err != nil {
			log.Warn(ctx, "metrics push failed", logger.String("url", m.PushURL), logger.Error(err))
			errs = append(errs, err)
		}
	}
	if m.Textfile != "" {
		if err := metrics.WriteTextfile(m.Textfile); err != nil {
			log.Warn(ctx, "metrics textfile failed", logger.String("path", m.Textfile), logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
