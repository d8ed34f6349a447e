package devstate

import "errors"

// Sentinel errors returned by device state operations.
var (
	// ErrDeviceNotFound indicates a state lookup for a device with no row.
	ErrDeviceNotFound = errors.New("devstate: device not found")

	// ErrUnknownDevice indicates a reconcile naming a device or site that
	// does not exist in the catalog.
	ErrUnknownDevice = errors.New("devstate: unknown device or site")

	// ErrInvalidReport indicates a heartbeat report that fails validation
	// (missing identifiers or an unrecognised status).
	ErrInvalidReport = errors.New("devstate: invalid report")
)
