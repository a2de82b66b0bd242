// Package exclusion loads the blacklist of subjects barred from the leaderboard.
package exclusion

import (
	"context"
	"strings"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/schema"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Set is a set of excluded subject ids. The zero value is an empty set.
type Set map[string]struct{}

// Contains reports whether id is excluded.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of excluded ids.
func (s Set) Len() int { return len(s) }

// Load reads the blacklist at path. A missing or unreadable artifact yields
// an empty set; the latter is logged as a warning.
//
// When the first record has a cell naming the subject id column, that column
// is used for every following record. Otherwise every record contributes its
// first field, when non-empty.
func Load(ctx context.Context, src model.ArtifactReader, path string, log logger.Logger) Set {
	if log == nil {
		log = logger.Nop()
	}
	records, err := src.Read(ctx, path)
	if err != nil {
		metrics.RecordSideArtifactWarning("blacklist")
		log.Warn(ctx, "blacklist unreadable, continuing without exclusions",
			logger.String("path", path), logger.Error(err))
		return Set{}
	}
	set := FromRecords(records)
	metrics.UpdateExcludedIDs(set.Len())
	log.Info(ctx, "blacklist loaded", logger.String("path", path), logger.Int("ids", set.Len()))
	return set
}

// FromRecords builds a Set from raw artifact records.
func FromRecords(records [][]string) Set {
	set := Set{}
	if len(records) == 0 {
		return set
	}

	col, body := 0, records
	if m, err := schema.Normalize(records[0], schema.SubjectID); err == nil {
		col, _ = m.Index(schema.SubjectID)
		body = records[1:]
	}

	for _, rec := range body {
		if col >= len(rec) {
			continue
		}
		if id := strings.TrimSpace(rec[col]); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
