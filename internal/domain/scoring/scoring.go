// Package scoring computes leaderboard scores from record metrics.
package scoring

import (
	"sort"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/schema"
)

// Default tier weights.
const (
	defaultLowWeight  = 0.001
	defaultMidWeight  = 0.006
	defaultHighWeight = 0.03
)

// DefaultWeights returns the standard rarity bonus table.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		schema.TierLow:  defaultLowWeight,
		schema.TierMid:  defaultMidWeight,
		schema.TierHigh: defaultHighWeight,
	}
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithTierWeights sets the bonus weight per tier. An empty table makes the
// score equal to the value.
func WithTierWeights(weights map[string]float64) Option {
	return func(s *Scorer) {
		// Copy the weights map to avoid external modifications
		s.weights = make(map[string]float64, len(weights))
		for tier, w := range weights {
			s.weights[tier] = w
		}
	}
}

// Scored pairs a record with its computed score.
type Scored struct {
	Record model.Record
	Score  float64
}

// Scorer computes score = value * (1 + sum(weight[tier] * count[tier])).
// It holds no state beyond the weight table.
type Scorer struct {
	weights map[string]float64
	order   []string
}

// New creates a Scorer with the default weights unless overridden.
func New(opts ...Option) *Scorer {
	s := &Scorer{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(s)
	}
	s.order = tierOrder(s.weights)
	return s
}

// Weights returns a copy of the weight table.
func (s *Scorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Score returns the score for r.
func (s *Scorer) Score(r model.Record) float64 {
	if len(s.order) == 0 {
		return r.Value
	}
	bonus := 0.0
	for _, tier := range s.order {
		bonus += s.weights[tier] * r.Tier(tier)
	}
	return r.Value * (1 + bonus)
}

// ScoreAll scores records, preserving their order.
func (s *Scorer) ScoreAll(records []model.Record) []Scored {
	out := make([]Scored, len(records))
	for i, r := range records {
		out[i] = Scored{Record: r, Score: s.Score(r)}
	}
	return out
}

// tierOrder fixes the summation order so float results do not depend on
// map iteration.
func tierOrder(weights map[string]float64) []string {
	order := make([]string, 0, len(weights))
	known := make(map[string]bool, len(schema.Tiers))
	for _, t := range schema.Tiers {
		known[t] = true
		if _, ok := weights[t]; ok {
			order = append(order, t)
		}
	}
	var extra []string
	for t := range weights {
		if !known[t] {
			extra = append(extra, t)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
