// Package config defines the run configuration and its loading hooks.
//
// Conventions:
//   - New returns a Config holding every default.
//   - Load layers a YAML file and the environment on top of New and validates.
//   - The resulting Config is treated as immutable and passed by value.
package config

import (
	"time"

	"github.com/okian/ladder/internal/domain/ranking"
	"github.com/okian/ladder/internal/domain/scoring"
)

// Source holds connection settings for one logical database.
type Source struct {
	// DSN, when set, replaces the discrete connection fields.
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`

	SearchPath string `koanf:"search_path"`
	// StatementTimeoutMS bounds each statement server side; 0 disables.
	StatementTimeoutMS int `koanf:"statement_timeout_ms"`
	ConnectTimeoutS    int `koanf:"connect_timeout_s"`

	Tunnel Tunnel `koanf:"tunnel"`
}

// StatementTimeout returns the statement timeout as a duration.
func (s Source) StatementTimeout() time.Duration {
	return time.Duration(s.StatementTimeoutMS) * time.Millisecond
}

// ConnectTimeout returns the connect timeout as a duration.
func (s Source) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutS) * time.Second
}

// Tunnel configures an optional SSH hop in front of a source.
type Tunnel struct {
	Enabled        bool   `koanf:"enabled"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	User           string `koanf:"user"`
	PrivateKey     string `koanf:"private_key"`
	PrivateKeyFile string `koanf:"private_key_file"`
	KnownHostsFile string `koanf:"known_hosts_file"`
}

// Queries points at the SQL files run against each source.
type Queries struct {
	ActivityFile string `koanf:"activity_file"`
	// IdentityFile must contain the :ids placeholder.
	IdentityFile string `koanf:"identity_file"`
	// IdentityAllFile is the unfiltered identity query used as fallback.
	IdentityAllFile string `koanf:"identity_all_file"`
}

// Output names the artifacts written by a run.
type Output struct {
	// RawDump receives the activity table as fetched; empty disables it.
	RawDump string `koanf:"raw_dump"`
	Result  string `koanf:"result"`
}

// Retry bounds retries of transient source failures.
type Retry struct {
	Attempts int `koanf:"attempts"`
	DelayMS  int `koanf:"delay_ms"`
}

// Delay returns the pause between attempts.
func (r Retry) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Metrics configures where run metrics are exported.
type Metrics struct {
	PushURL  string `koanf:"push_url"`
	Job      string `koanf:"job"`
	Textfile string `koanf:"textfile"`
}

// Config contains the run configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	Activity Source  `koanf:"activity"`
	Identity Source  `koanf:"identity"`
	Queries  Queries `koanf:"queries"`
	Output   Output  `koanf:"output"`

	BlacklistFile string `koanf:"blacklist_file"`
	SnapshotFile  string `koanf:"snapshot_file"`

	// TopN caps the leaderboard length.
	TopN int `koanf:"top_n"`
	// JoinPolicy is strict or fallback.
	JoinPolicy string `koanf:"join_policy"`
	// MaxParams caps ids per identity query.
	MaxParams int `koanf:"max_params"`
	// ClampNegative floors adjusted values at zero.
	ClampNegative bool `koanf:"clamp_negative"`

	// TierWeights maps rarity tiers to their bonus weight.
	TierWeights map[string]float64 `koanf:"tier_weights"`
	// IdentityScoring ignores TierWeights and scores by value alone.
	IdentityScoring bool `koanf:"identity_scoring"`
	// TieBreakers lists the secondary sort keys in order.
	TieBreakers []string `koanf:"tie_breakers"`

	Retry   Retry   `koanf:"retry"`
	Metrics Metrics `koanf:"metrics"`
}

// Weights returns the effective tier weight table.
func (c Config) Weights() map[string]float64 {
	if c.IdentityScoring {
		return map[string]float64{}
	}
	return c.TierWeights
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Activity:  defaultSource(),
		Identity:  defaultSource(),
		Queries: Queries{
			ActivityFile: "activity.sql",
			IdentityFile: "identity.sql",
		},
		Output: Output{
			RawDump: "raw_data.csv",
			Result:  "leaderboard.csv",
		},
		BlacklistFile: "blacklist.csv",
		SnapshotFile:  "snapshot.csv",
		TopN:          100,
		JoinPolicy:    "strict",
		MaxParams:     1000,
		TierWeights:   scoring.DefaultWeights(),
		TieBreakers:   ranking.DefaultTieBreakers(),
		Retry:         Retry{Attempts: 3, DelayMS: 2000},
		Metrics:       Metrics{Job: "ladder"},
	}
}

func defaultSource() Source {
	return Source{
		Port:            5432,
		ConnectTimeoutS: 30,
		Tunnel:          Tunnel{Port: 22},
	}
}
