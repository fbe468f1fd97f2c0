package core

import "errors"

// ErrInvalidInput marks configuration or argument validation
// failures. These are rejected immediately and never retried.
var ErrInvalidInput = errors.New("invalid input")

// ErrUnsupportedOverlap is returned by ComputeSNRs when two
// transmissions occupy overlapping but non-identical frequency
// bands. Partial spectral overlap is not modelled; callers must use
// either identical or disjoint channels.
var ErrUnsupportedOverlap = errors.New("unsupported band overlap")
