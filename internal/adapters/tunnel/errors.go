package tunnel

import "errors"

// Sentinel kinds for tunnel errors.
var (
	// ErrTunnel marks a failure to reach or hold the SSH hop. Transient.
	ErrTunnel = errors.New("ssh tunnel failed")
	// ErrCredentials marks unusable tunnel configuration or key material.
	ErrCredentials = errors.New("ssh tunnel credentials invalid")
)
