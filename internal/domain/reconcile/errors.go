package reconcile

import "errors"

// ErrUnknownPolicy is returned for a join policy other than strict or fallback.
var ErrUnknownPolicy = errors.New("unknown join policy")
