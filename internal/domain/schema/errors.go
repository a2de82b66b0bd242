package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingColumn is the kind of every Error.
var ErrMissingColumn = errors.New("required column missing")

// Error reports a required canonical column that no raw column matched.
type Error struct {
	Column string
	Have   []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema: %s: %q (have: %s)", ErrMissingColumn, e.Column, strings.Join(e.Have, ", "))
}

// Is makes errors.Is(err, ErrMissingColumn) match.
func (e *Error) Is(target error) bool { return target == ErrMissingColumn }
