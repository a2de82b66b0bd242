// Package ranking orders scored records into the final leaderboard.
package ranking

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/schema"
	"github.com/okian/ladder/internal/domain/scoring"
)

// Output column names.
const (
	ColRank  = "rank"
	ColScore = "score"
)

// Columns is the leaderboard header in output order.
var Columns = []string{
	ColRank, schema.DisplayName, ColScore, schema.Value,
	schema.TierLow, schema.TierMid, schema.TierHigh, schema.SubjectID,
}

// DefaultTieBreakers lists the secondary sort keys used when none are
// configured.
func DefaultTieBreakers() []string {
	return []string{schema.Value, schema.TierHigh, schema.TierMid, schema.TierLow}
}

// ValidKey reports whether key can be used as a tie breaker.
func ValidKey(key string) bool {
	switch key {
	case schema.Value, schema.Deduction:
		return true
	}
	for _, t := range schema.Tiers {
		if key == t {
			return true
		}
	}
	return false
}

func field(r model.Record, key string) float64 {
	switch key {
	case schema.Value:
		return r.Value
	case schema.Deduction:
		return r.Deduction
	default:
		return r.Tier(key)
	}
}

// less reports whether a ranks before b: score descending, then each tie
// breaker descending, then subject id ascending.
func less(a, b scoring.Scored, tieBreakers []string) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	for _, key := range tieBreakers {
		av, bv := field(a.Record, key), field(b.Record, key)
		if av != bv {
			return av > bv
		}
	}
	return a.Record.SubjectID < b.Record.SubjectID
}

// Rank sorts a copy of scored, keeps the first topN and numbers them from 1.
// The sort is stable, so records with identical keys keep their input order.
func Rank(scored []scoring.Scored, tieBreakers []string, topN int) ([]model.RankedEntry, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopN, topN)
	}
	for _, key := range tieBreakers {
		if !ValidKey(key) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
	}

	sorted := append([]scoring.Scored(nil), scored...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j], tieBreakers)
	})
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}

	out := make([]model.RankedEntry, len(sorted))
	for i, s := range sorted {
		tiers := make(map[string]float64, len(schema.Tiers))
		for _, t := range schema.Tiers {
			tiers[t] = s.Record.Tier(t)
		}
		out[i] = model.RankedEntry{
			Rank:        i + 1,
			DisplayName: s.Record.DisplayName,
			Score:       s.Score,
			Value:       s.Record.Value,
			Tiers:       tiers,
			SubjectID:   s.Record.SubjectID,
		}
	}
	return out, nil
}

// Header returns an empty leaderboard table.
func Header() model.Table {
	return model.Table{Columns: append([]string(nil), Columns...)}
}

// Table renders entries as a leaderboard table.
func Table(entries []model.RankedEntry) model.Table {
	t := Header()
	t.Rows = make([][]string, 0, len(entries))
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(e.Rank),
			e.DisplayName,
			model.FormatFloat(e.Score),
			model.FormatFloat(e.Value),
			model.FormatFloat(e.Tiers[schema.TierLow]),
			model.FormatFloat(e.Tiers[schema.TierMid]),
			model.FormatFloat(e.Tiers[schema.TierHigh]),
			e.SubjectID,
		})
	}
	return t
}
