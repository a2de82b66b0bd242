package sink

import "errors"

// ErrWrite marks a failure to persist a table.
var ErrWrite = errors.New("write artifact failed")
