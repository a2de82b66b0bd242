// Package snapshot applies previously awarded deductions to current values.
package snapshot

import (
	"context"
	"strings"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/numeric"
	"github.com/okian/ladder/internal/domain/schema"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Adjustments maps subject id to the amount already deducted.
type Adjustments map[string]float64

// Deduction returns the amount for id, zero if absent.
func (a Adjustments) Deduction(id string) float64 { return a[id] }

// Len returns the number of ids with a deduction.
func (a Adjustments) Len() int { return len(a) }

// Load reads the snapshot at path. A missing or unreadable artifact yields
// no adjustments; the latter is logged as a warning.
func Load(ctx context.Context, src model.ArtifactReader, path string, log logger.Logger) Adjustments {
	if log == nil {
		log = logger.Nop()
	}
	records, err := src.Read(ctx, path)
	if err != nil {
		metrics.RecordSideArtifactWarning("snapshot")
		log.Warn(ctx, "snapshot unreadable, continuing without deductions",
			logger.String("path", path), logger.Error(err))
		return Adjustments{}
	}

	entries, bad := Entries(records)
	if bad > 0 {
		metrics.RecordSideArtifactWarning("snapshot")
		log.Warn(ctx, "snapshot amounts unparseable, treated as zero",
			logger.String("path", path), logger.Int("rows", bad))
	}
	adj := FromEntries(entries)
	metrics.UpdateAdjustedIDs(adj.Len())
	log.Info(ctx, "snapshot loaded", logger.String("path", path), logger.Int("ids", adj.Len()))
	return adj
}

// Entries parses raw snapshot records. A first record naming both the
// subject id and deduction columns is a header. Without one the id is the
// first field and the amount the second; a first record whose amount is not
// numeric is then taken to be an unrecognized header and skipped. Amounts
// that fail to parse count as zero and are reported in bad.
func Entries(records [][]string) (entries []model.AdjustmentEntry, bad int) {
	if len(records) == 0 {
		return nil, 0
	}

	idCol, amountCol, body := 0, 1, records
	if m, err := schema.Normalize(records[0], schema.SubjectID, schema.Deduction); err == nil {
		idCol, _ = m.Index(schema.SubjectID)
		amountCol, _ = m.Index(schema.Deduction)
		body = records[1:]
	} else if first := records[0]; len(first) > amountCol {
		if _, ok := numeric.Parse(first[amountCol]); !ok {
			body = records[1:]
		}
	}

	entries = make([]model.AdjustmentEntry, 0, len(body))
	for _, rec := range body {
		if idCol >= len(rec) {
			continue
		}
		id := strings.TrimSpace(rec[idCol])
		if id == "" {
			continue
		}
		var amount float64
		if amountCol < len(rec) {
			v, ok := numeric.Parse(rec[amountCol])
			if !ok && strings.TrimSpace(rec[amountCol]) != "" {
				bad++
			}
			amount = v
		}
		entries = append(entries, model.AdjustmentEntry{SubjectID: id, Amount: amount})
	}
	return entries, bad
}

// FromEntries sums entries per subject.
func FromEntries(entries []model.AdjustmentEntry) Adjustments {
	adj := make(Adjustments, len(entries))
	for _, e := range entries {
		adj[e.SubjectID] += e.Amount
	}
	return adj
}

// Apply returns copies of records with value reduced by each subject's
// deduction. With clamp, adjusted values below zero become zero.
func (a Adjustments) Apply(records []model.Record, clamp bool) []model.Record {
	out := make([]model.Record, len(records))
	for i, r := range records {
		d := a.Deduction(r.SubjectID)
		out[i] = r.With(func(n *model.Record) {
			n.Deduction = d
			n.Value = r.Value - d
			if clamp && n.Value < 0 {
				n.Value = 0
			}
		})
	}
	return out
}
