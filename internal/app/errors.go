package service

import "errors"

// ErrMissingDependency is returned when the pipeline lacks a source, sink or
// artifact reader.
var ErrMissingDependency = errors.New("pipeline dependency missing")
