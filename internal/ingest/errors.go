package ingest

import (
	"errors"
	"fmt"

	"github.com/ventra-io/fieldcore/internal/catalog"
	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/mlog"
)

// Sentinel errors returned by ingestion operations.
var (
	// ErrInvalidRecord indicates a record that fails structural
	// validation before touching storage.
	ErrInvalidRecord = errors.New("ingest: invalid record")

	// ErrBatchAborted indicates a storage failure stopped a batch
	// mid-way. Devices reconciled before the failure are reported; the
	// rest were not processed.
	ErrBatchAborted = errors.New("ingest: batch aborted by storage failure")
)

// Kind classifies an ingestion error for transport mapping.
type Kind int

const (
	// KindValidation covers malformed input: the request can never
	// succeed as sent.
	KindValidation Kind = iota

	// KindReferential covers input naming entities the catalog does not
	// know.
	KindReferential

	// KindStorage covers storage-layer failures: the request may succeed
	// on retry.
	KindStorage
)

// Classify maps an ingestion error onto its Kind. Unrecognised errors are
// treated as storage failures, the retriable class.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRecord),
		errors.Is(err, devstate.ErrInvalidReport),
		errors.Is(err, mlog.ErrInvalidMeasurement),
		errors.Is(err, catalog.ErrInvalidSite),
		errors.Is(err, catalog.ErrInvalidDevice),
		errors.Is(err, catalog.ErrInvalidPoint):
		return KindValidation
	case errors.Is(err, devstate.ErrUnknownDevice),
		errors.Is(err, mlog.ErrUnknownReference),
		errors.Is(err, catalog.ErrSiteNotFound),
		errors.Is(err, catalog.ErrDeviceNotFound),
		errors.Is(err, catalog.ErrPointNotFound):
		return KindReferential
	default:
		return KindStorage
	}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindReferential:
		return "referential"
	default:
		return "storage"
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}
