// Package dedupe tracks first occurrences of ids within a single pipeline run.
package dedupe

// Ordinals records the ordinal position at which each id was first seen.
// It is not safe for concurrent use; every stage owns its own instance.
type Ordinals struct {
	seen  map[string]int
	order []string
}

// New creates an empty Ordinals with room for sizeHint ids.
func New(sizeHint int) *Ordinals {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Ordinals{
		seen:  make(map[string]int, sizeHint),
		order: make([]string, 0, sizeHint),
	}
}

// SeenAndRecord reports whether id was already recorded. A new id is
// tagged with the next ordinal.
func (o *Ordinals) SeenAndRecord(id string) bool {
	if _, ok := o.seen[id]; ok {
		return true
	}
	o.seen[id] = len(o.order)
	o.order = append(o.order, id)
	return false
}

// Ordinal returns the tag assigned to id.
func (o *Ordinals) Ordinal(id string) (int, bool) {
	n, ok := o.seen[id]
	return n, ok
}

// IDs returns the unique ids in first-seen order.
func (o *Ordinals) IDs() []string {
	return append([]string(nil), o.order...)
}

// Size returns the number of unique ids.
func (o *Ordinals) Size() int {
	return len(o.order)
}
