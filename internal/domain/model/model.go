// Package model contains the tabular and record types passed between pipeline stages.
package model

import "context"

// Table is a normalized tabular result: column names plus rows of cells.
// Cells are already rendered as text so that subject ids are compared as
// opaque strings regardless of the source column type.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Header returns a table with the same columns and no rows.
func (t Table) Header() Table {
	return Table{Columns: append([]string(nil), t.Columns...)}
}

// Record is one subject's contribution from the activity source.
type Record struct {
	SubjectID   string
	DisplayName string
	// Value is the accumulated value; after adjustment it holds value minus deduction.
	Value float64
	// Deduction is the snapshot amount subtracted from Value.
	Deduction float64
	// Tiers holds rarity counters keyed by tier name.
	Tiers map[string]float64
}

// Tier returns the counter for tier, zero if absent.
func (r Record) Tier(name string) float64 {
	return r.Tiers[name]
}

// With returns a copy of r with a fresh Tiers map, so stages never share
// mutable state with earlier ones.
func (r Record) With(fn func(*Record)) Record {
	out := r
	out.Tiers = make(map[string]float64, len(r.Tiers))
	for k, v := range r.Tiers {
		out.Tiers[k] = v
	}
	fn(&out)
	return out
}

// IdentityEntry is an eligible subject with its canonical display name.
type IdentityEntry struct {
	SubjectID   string
	DisplayName string
}

// AdjustmentEntry is a previously applied deduction for a subject.
type AdjustmentEntry struct {
	SubjectID string
	Amount    float64
}

// RankedEntry is one leaderboard row.
type RankedEntry struct {
	Rank        int
	DisplayName string
	Score       float64
	Value       float64
	Tiers       map[string]float64
	SubjectID   string
}

// ArtifactReader reads an optional side artifact as raw records. A missing
// artifact yields no records and no error.
type ArtifactReader interface {
	Read(ctx context.Context, path string) ([][]string, error)
}
