package model

import "errors"

// Error kinds shared by adapters and domain stages. Adapters wrap their
// failures with one of these so callers can classify via errors.Is.
var (
	// ErrConnection marks transient network or authentication failures
	// reaching a data source. Retryable.
	ErrConnection = errors.New("source connection failed")
	// ErrQuery marks malformed queries or incompatible server capabilities.
	// Never retried blindly.
	ErrQuery = errors.New("source query failed")
	// ErrMalformedArtifact marks a side artifact that exists but cannot be
	// parsed in the expected shape. Never fatal.
	ErrMalformedArtifact = errors.New("malformed side artifact")
)
