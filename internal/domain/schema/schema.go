// Package schema maps raw column names onto the canonical names the
// pipeline works with.
package schema

import (
	"strings"
)

// Canonical column names.
const (
	SubjectID   = "subjectId"
	DisplayName = "displayName"
	Value       = "value"
	TierLow     = "low"
	TierMid     = "mid"
	TierHigh    = "high"
	Deduction   = "deduction"
)

// Tiers lists the rarity tier columns in declaration order.
var Tiers = []string{TierLow, TierMid, TierHigh}

// aliases is the single alias table. Keys are canonical names, values are
// folded aliases (see fold).
var aliases = map[string][]string{
	SubjectID:   {"subjectid", "userid", "playerid", "accountid", "uid", "id", "user", "player"},
	DisplayName: {"displayname", "name", "username", "nickname", "nick", "login", "playername"},
	Value:       {"value", "accumulatedvalue", "accumulated", "total", "totalvalue", "resources", "balance", "gold"},
	TierLow:     {"low", "lowtier", "tierlow", "common", "commoncount", "lowcount"},
	TierMid:     {"mid", "midtier", "tiermid", "medium", "rare", "rarecount", "midcount"},
	TierHigh:    {"high", "hightier", "tierhigh", "epic", "legendary", "epiccount", "highcount"},
	Deduction:   {"deduction", "deducted", "deductedamount", "amount", "applied", "awarded"},
}

// reverse maps a folded alias to its canonical name.
var reverse = func() map[string]string {
	m := make(map[string]string)
	for canonical, list := range aliases {
		for _, a := range list {
			m[a] = canonical
		}
	}
	return m
}()

// fold reduces a raw column name to its comparison key: BOM, quotes and
// surrounding whitespace removed, lower-cased, and inner separators dropped
// so "userId", "user id" and "user_id" agree.
func fold(raw string) string {
	s := strings.TrimPrefix(raw, "\ufeff")
	s = strings.Trim(strings.TrimSpace(s), "\"'`")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "", "\t", "").Replace(s)
}

// Canonical returns the canonical name for a raw column name.
func Canonical(raw string) (string, bool) {
	c, ok := reverse[fold(raw)]
	return c, ok
}

// Mapping records the index of each canonical column in a raw column list.
type Mapping struct {
	index map[string]int
}

// Normalize builds a Mapping for columns. The first raw column matching a
// canonical name wins. Unrecognized columns are ignored. Each name in
// required must be matched or an *Error is returned.
func Normalize(columns []string, required ...string) (Mapping, error) {
	m := Mapping{index: make(map[string]int, len(columns))}
	for i, raw := range columns {
		c, ok := Canonical(raw)
		if !ok {
			continue
		}
		if _, dup := m.index[c]; dup {
			continue
		}
		m.index[c] = i
	}
	for _, r := range required {
		if _, ok := m.index[r]; !ok {
			return Mapping{}, &Error{Column: r, Have: append([]string(nil), columns...)}
		}
	}
	return m, nil
}

// Has reports whether canonical was matched.
func (m Mapping) Has(canonical string) bool {
	_, ok := m.index[canonical]
	return ok
}

// Index returns the raw column index for canonical.
func (m Mapping) Index(canonical string) (int, bool) {
	i, ok := m.index[canonical]
	return i, ok
}

// Get returns the trimmed cell for canonical in row. Short rows yield false.
func (m Mapping) Get(row []string, canonical string) (string, bool) {
	i, ok := m.index[canonical]
	if !ok || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}
