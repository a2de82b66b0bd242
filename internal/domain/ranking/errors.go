package ranking

import "errors"

var (
	// ErrInvalidTopN is returned when the leaderboard size is not positive.
	ErrInvalidTopN = errors.New("top n must be positive")
	// ErrUnknownKey is returned for a tie breaker that names no record field.
	ErrUnknownKey = errors.New("unknown tie breaker")
)
