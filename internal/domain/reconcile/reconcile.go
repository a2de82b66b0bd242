// Package reconcile turns the activity table into records and joins them
// with resolved identities and the blacklist.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/okian/ladder/internal/domain/dedupe"
	"github.com/okian/ladder/internal/domain/exclusion"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/numeric"
	"github.com/okian/ladder/internal/domain/schema"
	"github.com/okian/ladder/pkg/metrics"
)

// Policy decides what happens to a record without a matching identity.
type Policy string

// Join policies.
const (
	// Strict drops records with no eligible identity.
	Strict Policy = "strict"
	// Fallback keeps them with the subject id as display name.
	Fallback Policy = "fallback"
)

// ParsePolicy parses a policy name. Empty means Strict.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Strict, nil
	case Strict, Fallback:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// ExtractStats counts what Records skipped.
type ExtractStats struct {
	Rows       int
	EmptyIDs   int
	Duplicates int
	BadValues  int
}

// Records converts a normalized activity table into records. The subject id
// and value columns are required; tier columns are optional and default to
// zero. A repeated subject id keeps its first row. Values that fail to parse
// count as zero.
func Records(t model.Table) ([]model.Record, ExtractStats, error) {
	stats := ExtractStats{Rows: t.Len()}
	m, err := schema.Normalize(t.Columns, schema.SubjectID, schema.Value)
	if err != nil {
		return nil, stats, fmt.Errorf("activity: %w", err)
	}

	seen := dedupe.New(t.Len())
	out := make([]model.Record, 0, t.Len())
	for _, row := range t.Rows {
		id, _ := m.Get(row, schema.SubjectID)
		if id == "" {
			stats.EmptyIDs++
			continue
		}
		if seen.SeenAndRecord(id) {
			stats.Duplicates++
			continue
		}

		raw, _ := m.Get(row, schema.Value)
		value, ok := numeric.Parse(raw)
		if !ok {
			stats.BadValues++
		}
		r := model.Record{SubjectID: id, Value: value, Tiers: make(map[string]float64, len(schema.Tiers))}
		if name, ok := m.Get(row, schema.DisplayName); ok {
			r.DisplayName = name
		}
		for _, tier := range schema.Tiers {
			if s, ok := m.Get(row, tier); ok {
				r.Tiers[tier] = numeric.OrZero(s)
			} else {
				r.Tiers[tier] = 0
			}
		}
		out = append(out, r)
	}

	metrics.RecordDropped("extract", "empty_id", stats.EmptyIDs)
	metrics.RecordDropped("extract", "duplicate", stats.Duplicates)
	return out, stats, nil
}

// IDs returns the subject ids of records in order.
func IDs(records []model.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.SubjectID
	}
	return out
}

// JoinStats counts what Join removed.
type JoinStats struct {
	Ineligible int
	Defaulted  int
	Excluded   int
}

// Join keeps the records whose subject has an identity, applying policy to
// those that do not, and removes blacklisted subjects. Returned records are
// copies carrying the resolved display name. A blank resolved name falls
// back to the subject id.
func Join(records []model.Record, names map[string]string, excluded exclusion.Set, policy Policy) ([]model.Record, JoinStats) {
	var stats JoinStats
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		name, ok := names[r.SubjectID]
		if !ok {
			if policy != Fallback {
				stats.Ineligible++
				continue
			}
			stats.Defaulted++
			name = r.SubjectID
		}
		if excluded.Contains(r.SubjectID) {
			stats.Excluded++
			continue
		}
		if strings.TrimSpace(name) == "" {
			name = r.SubjectID
		}
		out = append(out, r.With(func(n *model.Record) { n.DisplayName = name }))
	}

	metrics.RecordDropped("join", "ineligible", stats.Ineligible)
	metrics.RecordDropped("exclusion", "blacklisted", stats.Excluded)
	return out, stats
}
