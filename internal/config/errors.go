package config

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrInvalidConfig marks a missing or out of range setting, or a
	// required file that does not exist.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrLoadConfig marks a config file or environment that cannot be parsed.
	ErrLoadConfig = errors.New("load config failed")
)
