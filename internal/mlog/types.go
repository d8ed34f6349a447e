package mlog

import (
	"fmt"
	"strings"
	"time"
)

// Chunk lifecycle states.
const (
	// ChunkOpen accepts writes into the raw measurements table.
	ChunkOpen = "open"

	// ChunkCompressed holds its rows as a single zstd block in
	// chunk_archive; the raw table has no rows for it.
	ChunkCompressed = "compressed"

	// ChunkDirty is a compressed chunk that received a late write. Raw
	// rows and the archive block coexist until recompression merges them.
	ChunkDirty = "dirty"
)

// tsFormat is the canonical timestamp encoding for ts_utc columns. The
// fraction is fixed-width so lexicographic order on the stored TEXT value
// matches chronological order, which range scans and MAX() rely on.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Measurement is one reading of one point at one instant. The
// (SiteID, PointID, TS) triple is the storage key; writing the same key
// twice replaces value and quality atomically.
type Measurement struct {
	SiteID    string
	PointID   string
	PointName string
	Unit      *string
	TS        time.Time
	Value     *float64
	Quality   *int
	SchemaVer int
	MetaHash  *string
}

// Validate checks structural validity. It does not consult the catalog;
// referential integrity is enforced at write time.
func (m *Measurement) Validate() error {
	if strings.TrimSpace(m.SiteID) == "" {
		return fmt.Errorf("%w: site_id is required", ErrInvalidMeasurement)
	}
	if strings.TrimSpace(m.PointID) == "" {
		return fmt.Errorf("%w: point_id is required", ErrInvalidMeasurement)
	}
	if m.TS.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidMeasurement)
	}
	return nil
}

// Chunk is the metadata row for one (time window, site bucket) partition.
type Chunk struct {
	ID           int64
	StartTS      time.Time
	EndTS        time.Time
	SiteBucket   int
	State        string
	RowCount     int
	CreatedAt    time.Time
	CompressedAt *time.Time
}

// CycleStats summarises one maintenance cycle over the chunk set. Failed
// chunks are logged individually and retried on the next cycle.
type CycleStats struct {
	Examined int
	Done     int
	Failed   int
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsFormat)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsFormat, s)
	if err != nil {
		// Tolerate plain RFC3339 written by hand or by older tooling.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}
