package mlog

import "errors"

// Sentinel errors returned by measurement log operations. Callers match
// with errors.Is to translate into transport-level responses.
var (
	// ErrInvalidMeasurement indicates a measurement that fails structural
	// validation (missing identifiers or zero timestamp).
	ErrInvalidMeasurement = errors.New("mlog: invalid measurement")

	// ErrUnknownReference indicates the measurement names a site or point
	// that does not exist in the catalog.
	ErrUnknownReference = errors.New("mlog: unknown site or point")

	// ErrChunkNotFound indicates a chunk lookup by ID matched nothing.
	ErrChunkNotFound = errors.New("mlog: chunk not found")
)
