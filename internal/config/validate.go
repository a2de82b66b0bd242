package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/okian/ladder/internal/domain/identity"
	"github.com/okian/ladder/internal/domain/ranking"
	"github.com/okian/ladder/internal/domain/reconcile"
	"github.com/okian/ladder/pkg/logger"
)

// Validate reports every problem found as one error wrapping
// ErrInvalidConfig.
func (c Config) Validate(_ context.Context) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for name, s := range map[string]Source{"activity": c.Activity, "identity": c.Identity} {
		if s.DSN == "" {
			for key, v := range map[string]string{"host": s.Host, "name": s.Name, "user": s.User, "password": s.Password} {
				if v == "" {
					add("%s.%s is required", name, key)
				}
			}
		}
		if s.Port <= 0 || s.Port > 65535 {
			add("%s.port out of range", name)
		}
		if s.StatementTimeoutMS < 0 {
			add("%s.statement_timeout_ms must not be negative", name)
		}
		if t := s.Tunnel; t.Enabled {
			if t.Host == "" {
				add("%s.tunnel.host is required", name)
			}
			if t.User == "" {
				add("%s.tunnel.user is required", name)
			}
			if t.PrivateKey == "" && t.PrivateKeyFile == "" {
				add("%s.tunnel.private_key or private_key_file is required", name)
			}
			if t.PrivateKeyFile != "" && !exists(t.PrivateKeyFile) {
				add("%s.tunnel.private_key_file %q does not exist", name, t.PrivateKeyFile)
			}
		}
	}

	for key, path := range map[string]string{
		"queries.activity_file": c.Queries.ActivityFile,
		"queries.identity_file": c.Queries.IdentityFile,
	} {
		switch {
		case path == "":
			add("%s is required", key)
		case !exists(path):
			add("%s %q does not exist", key, path)
		}
	}
	if p := c.Queries.IdentityAllFile; p != "" && !exists(p) {
		add("queries.identity_all_file %q does not exist", p)
	}

	if strings.TrimSpace(c.Output.Result) == "" {
		add("output.result is required")
	}
	if c.TopN <= 0 {
		add("top_n must be positive")
	}
	if c.MaxParams <= 0 || c.MaxParams > identity.MaxParams {
		add("max_params must be within 1..%d", identity.MaxParams)
	}
	if _, err := reconcile.ParsePolicy(c.JoinPolicy); err != nil {
		add("join_policy: %v", err)
	}
	for _, key := range c.TieBreakers {
		if !ranking.ValidKey(key) {
			add("tie_breakers: unknown key %q", key)
		}
	}
	for tier, w := range c.TierWeights {
		if w < 0 {
			add("tier_weights.%s must not be negative", tier)
		}
	}
	if c.Retry.Attempts < 1 {
		add("retry.attempts must be at least 1")
	}
	if c.Retry.DelayMS < 0 {
		add("retry.delay_ms must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		add("log_format must be text or json")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// QueryText holds the SQL read from the configured query files.
type QueryText struct {
	Activity    string
	Identity    string
	IdentityAll string
}

// ReadQueries reads every configured query file.
func (c Config) ReadQueries() (QueryText, error) {
	var q QueryText
	var err error
	if q.Activity, err = ReadQuery(c.Queries.ActivityFile); err != nil {
		return QueryText{}, err
	}
	if q.Identity, err = ReadQuery(c.Queries.IdentityFile); err != nil {
		return QueryText{}, err
	}
	if !strings.Contains(q.Identity, identity.Placeholder) {
		return QueryText{}, fmt.Errorf("%w: %s must contain %s", ErrInvalidConfig, c.Queries.IdentityFile, identity.Placeholder)
	}
	if c.Queries.IdentityAllFile != "" {
		if q.IdentityAll, err = ReadQuery(c.Queries.IdentityAllFile); err != nil {
			return QueryText{}, err
		}
	}
	return q, nil
}

// ReadQuery returns the trimmed statement in path without a trailing
// semicolon.
func ReadQuery(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: query file: %w", ErrInvalidConfig, err)
	}
	q := strings.TrimSpace(string(b))
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	if q == "" {
		return "", fmt.Errorf("%w: query file %s is empty", ErrInvalidConfig, path)
	}
	return q, nil
}

// ApplyLogLevel sets the logger level, warning and keeping info when the
// configured level is unknown.
func (c Config) ApplyLogLevel(ctx context.Context, log logger.Logger) {
	if err := logger.SetLevelString(c.LogLevel); err != nil {
		_ = logger.SetLevelString("info")
		log.Warn(ctx, "unknown log level, using info", logger.String("log_level", c.LogLevel))
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
