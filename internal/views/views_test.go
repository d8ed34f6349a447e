package views

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
	"github.com/ventra-io/fieldcore/internal/infrastructure/database"
	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/mlog"
	_ "github.com/ventra-io/fieldcore/migrations"
)

func setupTestViews(t *testing.T) (*Service, *mlog.Log, *devstate.Store, *database.DB) {
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

	logger := logging.Default()
	log, err := mlog.New(db.DB, config.LogConfig{
		ChunkWindowHours:   24,
		SiteBuckets:        8,
		CompressAfterHours: 168,
		RetentionHours:     8760,
	}, logger)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	t.Cleanup(log.Close)

	svc := NewService(db.DB, log, config.ViewsConfig{
		RefreshInterval:   60,
		StaleThreshold:    120,
		RecentWindowHours: 24,
	}, logger)

	return svc, log, devstate.NewStore(db.DB), db
}

func seedSite(t *testing.T, db *database.DB, siteID string, points []string, devices []string) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sites (site_id, display_name, tz, created_at)
		VALUES (?, ?, 'UTC', '2026-01-01T00:00:00.000000000Z')
	`, siteID, siteID)
	if err != nil {
		t.Fatalf("failed to seed site: %v", err)
	}
	for _, p := range points {
		_, err := db.ExecContext(ctx, `
			INSERT INTO points (site_id, point_id, point_name, point_type, active, created_at)
			VALUES (?, ?, ?, 'temperature', 1, '2026-01-01T00:00:00.000000000Z')
		`, siteID, p, "name-"+p)
		if err != nil {
			t.Fatalf("failed to seed point %s: %v", p, err)
		}
	}
	for _, d := range devices {
		_, err := db.ExecContext(ctx, `
			INSERT INTO devices (device_id, site_id, model, created_at)
			VALUES (?, ?, 'rtu-gw-02', '2026-01-01T00:00:00.000000000Z')
		`, d, siteID)
		if err != nil {
			t.Fatalf("failed to seed device %s: %v", d, err)
		}
	}
}

func appendReading(t *testing.T, log *mlog.Log, siteID, pointID string, ts time.Time, value float64) {
	t.Helper()
	q := 192
	if err := log.Append(context.Background(), mlog.Measurement{
		SiteID:    siteID,
		PointID:   pointID,
		PointName: "name-" + pointID,
		TS:        ts,
		Value:     &value,
		Quality:   &q,
	}); err != nil {
		t.Fatalf("failed to append reading: %v", err)
	}
}

func TestService_RefreshAndPointLatest(t *testing.T) {
	svc, log, _, db := setupTestViews(t)
	ctx := context.Background()
	seedSite(t, db, "site-001", []string{"pt-001", "pt-002"}, nil)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	appendReading(t, log, "site-001", "pt-001", base, 20.0)
	appendReading(t, log, "site-001", "pt-001", base.Add(time.Minute), 21.0)
	appendReading(t, log, "site-001", "pt-002", base, 55.0)

	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}

	got, err := svc.PointLatest(ctx, "pt-001")
	if err != nil {
		t.Fatalf("failed to get latest: %v", err)
	}
	if !got.TS.Equal(base.Add(time.Minute)) {
		t.Errorf("expected latest ts %v, got %v", base.Add(time.Minute), got.TS)
	}
	if got.Value == nil || *got.Value != 21.0 {
		t.Errorf("expected latest value 21.0, got %v", got.Value)
	}

	all, err := svc.ListLatest(ctx, "")
	if err != nil {
		t.Fatalf("failed to list latest: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 view rows, got %d", len(all))
	}
}

func TestService_RefreshReplacesPreviousView(t *testing.T) {
	svc, log, _, db := setupTestViews(t)
	ctx := context.Background()
	seedSite(t, db, "site-001", []string{"pt-001"}, nil)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	appendReading(t, log, "site-001", "pt-001", base, 20.0)
	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}

	appendReading(t, log, "site-001", "pt-001", base.Add(time.Hour), 30.0)
	if err := svc.RefreshLatest(ctx); err != nil {
		t.Fatalf("failed to refresh again: %v", err)
	}

	got, err := svc.PointLatest(ctx, "pt-001")
	if err != nil {
		t.Fatalf("failed to get latest: %v", err)
	}
	if got.Value == nil || *got.Value != 30.0 {
		t.Errorf("expected refreshed value 30.0, got %v", got.Value)
	}

	all, err := svc.ListLatest(ctx, "")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly 1 row per point after refresh, got %d", len(all))
	}
}

func TestService_RefreshSkipsWhenRunning(t *testing.T) {
	svc, _, _, _ := setupTestViews(t)

	svc.refreshMu.Lock()
	defer svc.refreshMu.Unlock()

	err := svc.RefreshLatest(context.Background())
	if !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("expected ErrRefreshInProgress, got %v", err)
	}
}

func TestService_PointLatestNotFound(t *testing.T) {
	svc, _, _, _ := setupTestViews(t)

	_, err := svc.PointLatest(context.Background(), "pt-404")
	if !errors.Is(err, ErrPointNotFound) {
		t.Errorf("expected ErrPointNotFound, got %v", err)
	}
}

func TestService_Recent(t *testing.T) {
	svc, log, _, db := setupTestViews(t)
	ctx := context.Background()
	seedSite(t, db, "site-001", []string{"pt-001", "pt-002"}, nil)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	appendReading(t, log, "site-001", "pt-001", now.Add(-time.Hour), 1.0)
	appendReading(t, log, "site-001", "pt-002", now.Add(-30*time.Hour), 2.0)

	recent, err := svc.Recent(ctx, now)
	if err != nil {
		t.Fatalf("failed to get recent view: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 recently-active point, got %d", len(recent))
	}
	if recent[0].PointID != "pt-001" {
		t.Errorf("expected pt-001, got %s", recent[0].PointID)
	}
}

func TestService_StaleDevices(t *testing.T) {
	svc, _, store, db := setupTestViews(t)
	ctx := context.Background()
	seedSite(t, db, "site-001", nil, []string{"dev-fresh", "dev-stale", "dev-staler", "dev-boundary"})

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	heartbeats := map[string]time.Time{
		"dev-fresh":    now.Add(-119 * time.Second),
		"dev-stale":    now.Add(-121 * time.Second),
		"dev-staler":   now.Add(-10 * time.Minute),
		"dev-boundary": now.Add(-120 * time.Second),
	}
	for id, seen := range heartbeats {
		if err := store.Reconcile(ctx, devstate.Report{DeviceID: id, SiteID: "site-001"}, seen); err != nil {
			t.Fatalf("failed to reconcile %s: %v", id, err)
		}
	}

	stale, err := svc.StaleDevices(ctx, now)
	if err != nil {
		t.Fatalf("failed to query stale devices: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale devices, got %d", len(stale))
	}
	// Most stale first.
	if stale[0].DeviceID != "dev-staler" || stale[1].DeviceID != "dev-stale" {
		t.Errorf("unexpected ordering: %s, %s", stale[0].DeviceID, stale[1].DeviceID)
	}
	if stale[0].Age != 10*time.Minute {
		t.Errorf("expected age 10m, got %v", stale[0].Age)
	}
}
