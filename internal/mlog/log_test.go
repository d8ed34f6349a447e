package mlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/database"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	_ "github.com/ventra-io/fieldcore/migrations"
)

func setupTestLog(t *testing.T) (*Log, *database.DB) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cfg := config.LogConfig{
		ChunkWindowHours:   24,
		SiteBuckets:        8,
		CompressAfterHours: 168,
		RetentionHours:     8760,
	}
	log, err := New(db.DB, cfg, logging.Default())
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	t.Cleanup(log.Close)

	return log, db
}

// seedCatalog inserts a site and points directly so foreign keys resolve.
func seedCatalog(t *testing.T, db *database.DB, siteID string, pointIDs ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sites (site_id, display_name, tz, created_at)
		VALUES (?, ?, 'UTC', '2026-01-01T00:00:00.000000000Z')
	`, siteID, siteID)
	if err != nil {
		t.Fatalf("failed to seed site: %v", err)
	}
	for _, id := range pointIDs {
		_, err := db.ExecContext(ctx, `
			INSERT INTO points (site_id, point_id, point_name, point_type, active, created_at)
			VALUES (?, ?, ?, 'temperature', 1, '2026-01-01T00:00:00.000000000Z')
		`, siteID, id, "name-"+id)
		if err != nil {
			t.Fatalf("failed to seed point %s: %v", id, err)
		}
	}
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func strPtr(s string) *string     { return &s }

func reading(siteID, pointID string, ts time.Time, value float64) Measurement {
	return Measurement{
		SiteID:    siteID,
		PointID:   pointID,
		PointName: "name-" + pointID,
		Unit:      strPtr("degC"),
		TS:        ts,
		Value:     floatPtr(value),
		Quality:   intPtr(192),
	}
}

func TestLog_AppendAndQuery(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001", "pt-002")

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := reading("site-001", "pt-001", base.Add(time.Duration(i)*time.Minute), 20.0+float64(i))
		if err := log.Append(ctx, m); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	if err := log.Append(ctx, reading("site-001", "pt-002", base, 55.0)); err != nil {
		t.Fatalf("failed to append second point: %v", err)
	}

	got, err := log.PointRange(ctx, "site-001", "pt-001", base, base.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("failed to query point range: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 measurements, got %d", len(got))
	}
	// Newest first.
	for i := 1; i < len(got); i++ {
		if got[i].TS.After(got[i-1].TS) {
			t.Errorf("results not in descending time order at index %d", i)
		}
	}
	if *got[0].Value != 24.0 {
		t.Errorf("expected newest value 24.0, got %v", *got[0].Value)
	}

	siteRows, err := log.SiteRange(ctx, "site-001", base, base.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("failed to query site range: %v", err)
	}
	if len(siteRows) != 6 {
		t.Errorf("expected 6 site measurements, got %d", len(siteRows))
	}

	limited, err := log.PointRange(ctx, "site-001", "pt-001", base, base.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("failed to query limited range: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit of 2, got %d", len(limited))
	}
}

func TestLog_AppendUpsert(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001")

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := log.Append(ctx, reading("site-001", "pt-001", ts, 20.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	// Replayed delivery with a corrected value.
	if err := log.Append(ctx, reading("site-001", "pt-001", ts, 21.5)); err != nil {
		t.Fatalf("failed to re-append same key: %v", err)
	}

	got, err := log.PointRange(ctx, "site-001", "pt-001", ts.Add(-time.Minute), ts.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 row after upsert, got %d", len(got))
	}
	if *got[0].Value != 21.5 {
		t.Errorf("expected replacement value 21.5, got %v", *got[0].Value)
	}
}

func TestLog_AppendValidation(t *testing.T) {
	log, _ := setupTestLog(t)
	ctx := context.Background()

	tests := []struct {
		name string
		m    Measurement
	}{
		{"missing site", Measurement{PointID: "pt-001", TS: time.Now()}},
		{"missing point", Measurement{SiteID: "site-001", TS: time.Now()}},
		{"zero timestamp", Measurement{SiteID: "site-001", PointID: "pt-001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := log.Append(ctx, tt.m)
			if !errors.Is(err, ErrInvalidMeasurement) {
				t.Errorf("expected ErrInvalidMeasurement, got %v", err)
			}
		})
	}
}

func TestLog_AppendUnknownReference(t *testing.T) {
	log, _ := setupTestLog(t)
	ctx := context.Background()

	err := log.Append(ctx, reading("ghost-site", "pt-001", time.Now(), 1.0))
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference, got %v", err)
	}
}

func TestLog_ChunkAssignment(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001")

	// Two readings in the same UTC day share a chunk; one the next day
	// gets a new chunk in the same bucket.
	day1a := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	day1b := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 0, 1, 0, 0, time.UTC)
	for _, ts := range []time.Time{day1a, day1b, day2} {
		if err := log.Append(ctx, reading("site-001", "pt-001", ts, 1.0)); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	chunks, err := log.chunksWhere(ctx, `1 = 1`)
	if err != nil {
		t.Fatalf("failed to list chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].SiteBucket != chunks[1].SiteBucket {
		t.Errorf("same site should map to the same bucket")
	}

	start, end, bucket := log.windowBounds(day1a, "site-001")
	if !start.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected window start %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected window end %v", end)
	}
	if bucket != chunks[0].SiteBucket {
		t.Errorf("windowBounds bucket %d does not match stored %d", bucket, chunks[0].SiteBucket)
	}
}

func TestLog_BucketStability(t *testing.T) {
	for _, site := range []string{"site-001", "site-002", "warehouse-north"} {
		a := bucketFor(site, 8)
		b := bucketFor(site, 8)
		if a != b {
			t.Errorf("bucket for %s not stable: %d vs %d", site, a, b)
		}
		if a < 0 || a > 7 {
			t.Errorf("bucket for %s out of range: %d", site, a)
		}
	}
}

func TestLog_CompressionTransparency(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001")

	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		m := reading("site-001", "pt-001", base.Add(time.Duration(i)*time.Hour), float64(i))
		if err := log.Append(ctx, m); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}

	from, to := base.Add(-time.Hour), base.Add(24*time.Hour)
	before, err := log.PointRange(ctx, "site-001", "pt-001", from, to, 0)
	if err != nil {
		t.Fatalf("failed to query before compression: %v", err)
	}

	// Cycle reference time well past the compression threshold.
	now := base.Add(200 * time.Hour)
	stats, err := log.CompressCycle(ctx, now)
	if err != nil {
		t.Fatalf("compression cycle failed: %v", err)
	}
	if stats.Done != 1 || stats.Failed != 0 {
		t.Fatalf("expected 1 chunk compressed, got %+v", stats)
	}

	chunks, err := log.chunksWhere(ctx, `state = ?`, ChunkCompressed)
	if err != nil {
		t.Fatalf("failed to list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 compressed chunk, got %d", len(chunks))
	}
	if chunks[0].RowCount != 10 {
		t.Errorf("expected row_count 10, got %d", chunks[0].RowCount)
	}

	var rawRows int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM measurements WHERE chunk_id = ?`, chunks[0].ID).Scan(&rawRows); err != nil {
		t.Fatalf("failed to count raw rows: %v", err)
	}
	if rawRows != 0 {
		t.Errorf("expected raw rows deleted after compression, found %d", rawRows)
	}

	after, err := log.PointRange(ctx, "site-001", "pt-001", from, to, 0)
	if err != nil {
		t.Fatalf("failed to query after compression: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("result size changed across compression: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].TS.Equal(after[i].TS) || *before[i].Value != *after[i].Value {
			t.Errorf("row %d differs across compression: %+v vs %+v", i, before[i], after[i])
		}
		if after[i].Quality == nil || *after[i].Quality != 192 {
			t.Errorf("row %d lost quality across compression", i)
		}
	}
}

func TestLog_LateWriteMarksDirty(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001")

	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	if err := log.Append(ctx, reading("site-001", "pt-001", base, 1.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if _, err := log.CompressCycle(ctx, base.Add(200*time.Hour)); err != nil {
		t.Fatalf("compression cycle failed: %v", err)
	}

	// Late arrival into the already-compressed window.
	late := reading("site-001", "pt-001", base.Add(2*time.Hour), 2.0)
	if err := log.Append(ctx, late); err != nil {
		t.Fatalf("late append failed: %v", err)
	}

	chunks, err := log.chunksWhere(ctx, `state = ?`, ChunkDirty)
	if err != nil {
		t.Fatalf("failed to list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 dirty chunk, got %d", len(chunks))
	}

	// Both rows visible while dirty.
	got, err := log.PointRange(ctx, "site-001", "pt-001", base.Add(-time.Hour), base.Add(24*time.Hour), 0)
	if err != nil {
		t.Fatalf("failed to query dirty chunk: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows from dirty chunk, got %d", len(got))
	}

	// Recompression folds the late row into the archive.
	stats, err := log.CompressCycle(ctx, base.Add(400*time.Hour))
	if err != nil {
		t.Fatalf("recompression cycle failed: %v", err)
	}
	if stats.Done != 1 {
		t.Fatalf("expected 1 chunk recompressed, got %+v", stats)
	}
	c, err := log.getChunk(ctx, chunks[0].ID)
	if err != nil {
		t.Fatalf("failed to reload chunk: %v", err)
	}
	if c.State != ChunkCompressed {
		t.Errorf("expected chunk compressed after recompression, got %s", c.State)
	}
	if c.RowCount != 2 {
		t.Errorf("expected merged row_count 2, got %d", c.RowCount)
	}

	got, err = log.PointRange(ctx, "site-001", "pt-001", base.Add(-time.Hour), base.Add(24*time.Hour), 0)
	if err != nil {
		t.Fatalf("failed to query after recompression: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows after recompression, got %d", len(got))
	}
}

func TestLog_LateOverwriteWinsOnRecompression(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001")

	ts := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	if err := log.Append(ctx, reading("site-001", "pt-001", ts, 1.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if _, err := log.CompressCycle(ctx, ts.Add(200*time.Hour)); err != nil {
		t.Fatalf("compression cycle failed: %v", err)
	}

	// Same key rewritten after compression: the raw row must win.
	if err := log.Append(ctx, reading("site-001", "pt-001", ts, 9.0)); err != nil {
		t.Fatalf("late overwrite failed: %v", err)
	}
	if _, err := log.CompressCycle(ctx, ts.Add(400*time.Hour)); err != nil {
		t.Fatalf("recompression failed: %v", err)
	}

	got, err := log.PointRange(ctx, "site-001", "pt-001", ts.Add(-time.Hour), ts.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if *got[0].Value != 9.0 {
		t.Errorf("expected overwritten value 9.0 to survive recompression, got %v", *got[0].Value)
	}
}

func TestLog_RetentionDropsExpiredChunks(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001")

	old := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := log.Append(ctx, reading("site-001", "pt-001", old, 1.0)); err != nil {
		t.Fatalf("failed to append old: %v", err)
	}
	if err := log.Append(ctx, reading("site-001", "pt-001", recent, 2.0)); err != nil {
		t.Fatalf("failed to append recent: %v", err)
	}

	// Compress the old chunk first so retention exercises archive removal.
	if _, err := log.CompressCycle(ctx, old.Add(200*time.Hour)); err != nil {
		t.Fatalf("compression cycle failed: %v", err)
	}

	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	stats, err := log.RetentionCycle(ctx, now)
	if err != nil {
		t.Fatalf("retention cycle failed: %v", err)
	}
	if stats.Done != 1 || stats.Failed != 0 {
		t.Fatalf("expected 1 chunk dropped, got %+v", stats)
	}

	chunks, err := log.chunksWhere(ctx, `1 = 1`)
	if err != nil {
		t.Fatalf("failed to list chunks: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 surviving chunk, got %d", len(chunks))
	}

	var archives int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_archive`).Scan(&archives); err != nil {
		t.Fatalf("failed to count archives: %v", err)
	}
	if archives != 0 {
		t.Errorf("expected archive removed with its chunk, found %d", archives)
	}

	got, err := log.PointRange(ctx, "site-001", "pt-001", recent.Add(-time.Hour), recent.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("failed to query surviving data: %v", err)
	}
	if len(got) != 1 || *got[0].Value != 2.0 {
		t.Errorf("recent data affected by retention: %+v", got)
	}
}

func TestLog_LatestPerPoint(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001", "pt-002")

	ts1 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	ts2 := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

	// pt-001 has an old reading (which will be archived) and a newer one.
	if err := log.Append(ctx, reading("site-001", "pt-001", ts1, 1.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := log.Append(ctx, reading("site-001", "pt-001", ts2, 2.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	// pt-002 only has history in the window that gets compressed.
	if err := log.Append(ctx, reading("site-001", "pt-002", ts1, 7.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if _, err := log.CompressCycle(ctx, ts1.Add(200*time.Hour)); err != nil {
		t.Fatalf("compression cycle failed: %v", err)
	}

	latest, err := log.LatestPerPoint(ctx)
	if err != nil {
		t.Fatalf("failed to compute latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected latest for 2 points, got %d", len(latest))
	}
	if m := latest["pt-001"]; !m.TS.Equal(ts2) || *m.Value != 2.0 {
		t.Errorf("unexpected latest for pt-001: %+v", m)
	}
	// pt-002's latest lives only in the archive.
	if m := latest["pt-002"]; !m.TS.Equal(ts1) || *m.Value != 7.0 {
		t.Errorf("unexpected latest for pt-002: %+v", m)
	}
}

func TestLog_RecentLatestWindow(t *testing.T) {
	log, db := setupTestLog(t)
	ctx := context.Background()
	seedCatalog(t, db, "site-001", "pt-001", "pt-002")

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	inside := now.Add(-time.Hour)
	outside := now.Add(-30 * time.Hour)

	if err := log.Append(ctx, reading("site-001", "pt-001", inside, 1.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := log.Append(ctx, reading("site-001", "pt-002", outside, 2.0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	recent, err := log.RecentLatest(ctx, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("failed to compute recent latest: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 point inside the window, got %d", len(recent))
	}
	if _, ok := recent["pt-001"]; !ok {
		t.Errorf("expected pt-001 in recent window")
	}
}
