package identity

import "errors"

var (
	// ErrPlaceholder is returned when the filtered query has no id placeholder.
	ErrPlaceholder = errors.New("identity query missing placeholder")
	// ErrNoFetcher is returned when the resolver has nothing to query.
	ErrNoFetcher = errors.New("identity fetcher is nil")
)
