package ingest

import (
	"time"

	"github.com/ventra-io/fieldcore/internal/devstate"
)

// HeartbeatRecord is one device's heartbeat as it arrives on the wire.
// Only the identifiers are required; every other field is merged into the
// stored state only when present.
type HeartbeatRecord struct {
	DeviceID      string     `json:"device_id"`
	SiteID        string     `json:"site_id"`
	Status        *string    `json:"status,omitempty"`
	AgentVersion  *string    `json:"agent_version,omitempty"`
	CPUPct        *float64   `json:"cpu_pct,omitempty"`
	DiskFreeGB    *float64   `json:"disk_free_gb,omitempty"`
	QueueDepth    *int       `json:"queue_depth,omitempty"`
	PollIntervalS *int       `json:"poll_interval_s,omitempty"`
	LastUploadTS  *time.Time `json:"last_upload_ts,omitempty"`
}

// toReport converts the wire record into a store report, validating the
// status value if present.
func (r HeartbeatRecord) toReport() (devstate.Report, error) {
	report := devstate.Report{
		DeviceID:      r.DeviceID,
		SiteID:        r.SiteID,
		AgentVersion:  r.AgentVersion,
		CPUPct:        r.CPUPct,
		DiskFreeGB:    r.DiskFreeGB,
		QueueDepth:    r.QueueDepth,
		PollIntervalS: r.PollIntervalS,
		LastUpload:    r.LastUploadTS,
	}
	if r.Status != nil {
		status, err := devstate.ParseStatus(*r.Status)
		if err != nil {
			return devstate.Report{}, err
		}
		report.Status = &status
	}
	return report, nil
}

// BatchResult reports the outcome of a heartbeat batch. Updated lists the
// devices whose state was reconciled, in input order; Skipped counts the
// entries rejected by validation or unknown to the catalog.
type BatchResult struct {
	Updated    []string  `json:"updated"`
	Skipped    int       `json:"skipped"`
	ReceivedAt time.Time `json:"received_at"`
}

// MeasurementRecord is one point reading as it arrives on the wire. The
// point is addressed by ID, or by (site_id, point_name) when PointID is
// empty.
type MeasurementRecord struct {
	SiteID    string   `json:"site_id"`
	PointID   string   `json:"point_id,omitempty"`
	PointName string   `json:"point_name,omitempty"`
	TS        string   `json:"ts_utc"`
	Value     *float64 `json:"value"`
	Quality   *int     `json:"quality,omitempty"`
	SchemaVer int      `json:"schema_version,omitempty"`
	MetaHash  *string  `json:"meta_hash,omitempty"`
}
