package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ventra-io/fieldcore/internal/catalog"
	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/mlog"
)

// Service validates and routes incoming telemetry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Service struct {
	catalog catalog.Repository
	states  *devstate.Store
	log     *mlog.Log
	logger  *logging.Logger
}

// NewService creates the ingestion service.
func NewService(cat catalog.Repository, states *devstate.Store, log *mlog.Log, logger *logging.Logger) *Service {
	return &Service{
		catalog: cat,
		states:  states,
		log:     log,
		logger:  logger.With("component", "ingest"),
	}
}

// Heartbeat reconciles a single device's heartbeat. Unlike the batch
// path, any defect in the record fails the whole call.
//
// Parameters:
//   - rec: The wire-format heartbeat
//   - receivedAt: Server receive time, recorded as last_seen
//
// Returns:
//   - error: Classified by Classify for transport mapping
func (s *Service) Heartbeat(ctx context.Context, rec HeartbeatRecord, receivedAt time.Time) error {
	report, err := rec.toReport()
	if err != nil {
		return err
	}
	return s.states.Reconcile(ctx, report, receivedAt)
}

// HeartbeatBatch reconciles a batch of heartbeats, one device at a time.
// Entries that fail validation or name unknown devices are skipped and
// logged; the rest proceed. A storage failure aborts the batch with
// ErrBatchAborted, returning the devices reconciled before the failure so
// the caller never reports unprocessed entries as successful.
func (s *Service) HeartbeatBatch(ctx context.Context, recs []HeartbeatRecord, receivedAt time.Time) (*BatchResult, error) {
	result := &BatchResult{Updated: make([]string, 0, len(recs)), ReceivedAt: receivedAt}
	for _, rec := range recs {
		err := s.Heartbeat(ctx, rec, receivedAt)
		if err == nil {
			result.Updated = append(result.Updated, rec.DeviceID)
			continue
		}
		kind := Classify(err)
		if kind == KindStorage {
			return result, fmt.Errorf("%w: device %s: %v", ErrBatchAborted, rec.DeviceID, err)
		}
		result.Skipped++
		s.logger.Warn("heartbeat entry skipped",
			"device_id", rec.DeviceID,
			"site_id", rec.SiteID,
			"kind", kind.String(),
			"error", err)
	}
	return result, nil
}

// Measurement validates one reading, resolves its point against the
// catalog, and appends it to the measurement log. The point's registered
// name and unit are captured onto the stored row, so history keeps the
// metadata as it was at write time.
func (s *Service) Measurement(ctx context.Context, rec MeasurementRecord) error {
	if rec.SiteID == "" {
		return invalidf("site_id is required")
	}
	if rec.TS == "" {
		return invalidf("ts_utc is required")
	}
	ts, err := time.Parse(time.RFC3339Nano, rec.TS)
	if err != nil {
		return invalidf("bad ts_utc %q: %v", rec.TS, err)
	}

	point, err := s.resolvePoint(ctx, rec)
	if err != nil {
		return err
	}
	if point.SiteID != rec.SiteID {
		return fmt.Errorf("%w: point %s belongs to site %s", catalog.ErrPointNotFound, point.ID, point.SiteID)
	}

	return s.log.Append(ctx, mlog.Measurement{
		SiteID:    rec.SiteID,
		PointID:   point.ID,
		PointName: point.Name,
		Unit:      point.Unit,
		TS:        ts,
		Value:     rec.Value,
		Quality:   rec.Quality,
		SchemaVer: rec.SchemaVer,
		MetaHash:  rec.MetaHash,
	})
}

func (s *Service) resolvePoint(ctx context.Context, rec MeasurementRecord) (*catalog.Point, error) {
	if rec.PointID != "" {
		return s.catalog.GetPoint(ctx, rec.PointID)
	}
	if rec.PointName != "" {
		return s.catalog.GetPointByName(ctx, rec.SiteID, rec.PointName)
	}
	return nil, invalidf("point_id or point_name is required")
}
