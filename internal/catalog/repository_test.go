package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ventra-io/fieldcore/internal/infrastructure/database"
	_ "github.com/ventra-io/fieldcore/migrations" // embedded schema
)

// setupTestDB opens a temporary database with the full embedded schema.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck // Test cleanup
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// seedSite inserts a site for tests that need one.
func seedSite(t *testing.T, repo *SQLiteRepository, id string) {
	t.Helper()

	if err := repo.CreateSite(context.Background(), &Site{ID: id, DisplayName: "Test " + id}); err != nil {
		t.Fatalf("seeding site %s: %v", id, err)
	}
}

func TestSQLiteRepository_CreateSite(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	t.Run("creates site successfully", func(t *testing.T) {
		site := &Site{ID: "building-a", DisplayName: "Building A", Timezone: "Europe/London"}

		if err := repo.CreateSite(ctx, site); err != nil {
			t.Fatalf("CreateSite() error = %v", err)
		}

		got, err := repo.GetSite(ctx, "building-a")
		if err != nil {
			t.Fatalf("GetSite() error = %v", err)
		}
		if got.DisplayName != "Building A" {
			t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Building A")
		}
		if got.Timezone != "Europe/London" {
			t.Errorf("Timezone = %q, want %q", got.Timezone, "Europe/London")
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
	})

	t.Run("defaults timezone to UTC", func(t *testing.T) {
		site := &Site{ID: "building-b", DisplayName: "Building B"}

		if err := repo.CreateSite(ctx, site); err != nil {
			t.Fatalf("CreateSite() error = %v", err)
		}

		got, err := repo.GetSite(ctx, "building-b")
		if err != nil {
			t.Fatalf("GetSite() error = %v", err)
		}
		if got.Timezone != "UTC" {
			t.Errorf("Timezone = %q, want UTC", got.Timezone)
		}
	})

	t.Run("rejects duplicate site", func(t *testing.T) {
		site := &Site{ID: "building-a", DisplayName: "Duplicate"}

		err := repo.CreateSite(ctx, site)
		if !errors.Is(err, ErrSiteExists) {
			t.Errorf("CreateSite() error = %v, want ErrSiteExists", err)
		}
	})

	t.Run("rejects invalid site", func(t *testing.T) {
		err := repo.CreateSite(ctx, &Site{ID: "", DisplayName: "No ID"})
		if !errors.Is(err, ErrInvalidSite) {
			t.Errorf("CreateSite() error = %v, want ErrInvalidSite", err)
		}
	})
}

func TestSQLiteRepository_CreateDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	seedSite(t, repo, "building-a")

	t.Run("creates device successfully", func(t *testing.T) {
		model := "TR-8200"
		device := &Device{ID: "hvac-001", SiteID: "building-a", Model: &model}

		if err := repo.CreateDevice(ctx, device); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}

		got, err := repo.GetDevice(ctx, "hvac-001")
		if err != nil {
			t.Fatalf("GetDevice() error = %v", err)
		}
		if got.SiteID != "building-a" {
			t.Errorf("SiteID = %q, want building-a", got.SiteID)
		}
		if got.Model == nil || *got.Model != "TR-8200" {
			t.Errorf("Model = %v, want TR-8200", got.Model)
		}
	})

	t.Run("rejects unknown site", func(t *testing.T) {
		device := &Device{ID: "hvac-002", SiteID: "nowhere"}

		err := repo.CreateDevice(ctx, device)
		if !errors.Is(err, ErrSiteNotFound) {
			t.Errorf("CreateDevice() error = %v, want ErrSiteNotFound", err)
		}
	})

	t.Run("rejects duplicate device", func(t *testing.T) {
		device := &Device{ID: "hvac-001", SiteID: "building-a"}

		err := repo.CreateDevice(ctx, device)
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("CreateDevice() error = %v, want ErrDeviceExists", err)
		}
	})
}

func TestSQLiteRepository_CreatePoint(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	seedSite(t, repo, "building-a")
	seedSite(t, repo, "building-b")

	if err := repo.CreateDevice(ctx, &Device{ID: "hvac-001", SiteID: "building-a"}); err != nil {
		t.Fatalf("seeding device: %v", err)
	}

	t.Run("creates point successfully", func(t *testing.T) {
		unit := "degC"
		deviceID := "hvac-001"
		point := &Point{
			ID:       "pt-001",
			SiteID:   "building-a",
			DeviceID: &deviceID,
			Name:     "zone1/supply_temp",
			Type:     "temperature",
			Unit:     &unit,
			Tags:     map[string]string{"zone": "1"},
			Active:   true,
		}

		if err := repo.CreatePoint(ctx, point); err != nil {
			t.Fatalf("CreatePoint() error = %v", err)
		}

		got, err := repo.GetPoint(ctx, "pt-001")
		if err != nil {
			t.Fatalf("GetPoint() error = %v", err)
		}
		if got.Name != "zone1/supply_temp" {
			t.Errorf("Name = %q", got.Name)
		}
		if got.Tags["zone"] != "1" {
			t.Errorf("Tags = %v, want zone=1", got.Tags)
		}
		if !got.Active {
			t.Error("Active should be true")
		}
	})

	t.Run("allows site-level point without device", func(t *testing.T) {
		point := &Point{
			ID:     "pt-002",
			SiteID: "building-a",
			Name:   "outdoor_temp",
			Type:   "temperature",
			Active: true,
		}

		if err := repo.CreatePoint(ctx, point); err != nil {
			t.Fatalf("CreatePoint() error = %v", err)
		}

		got, err := repo.GetPoint(ctx, "pt-002")
		if err != nil {
			t.Fatalf("GetPoint() error = %v", err)
		}
		if got.DeviceID != nil {
			t.Errorf("DeviceID = %v, want nil", got.DeviceID)
		}
	})

	t.Run("rejects duplicate name within site", func(t *testing.T) {
		point := &Point{
			ID:     "pt-003",
			SiteID: "building-a",
			Name:   "zone1/supply_temp",
			Type:   "temperature",
		}

		err := repo.CreatePoint(ctx, point)
		if !errors.Is(err, ErrPointNameTaken) {
			t.Errorf("CreatePoint() error = %v, want ErrPointNameTaken", err)
		}
	})

	t.Run("allows same name in different site", func(t *testing.T) {
		point := &Point{
			ID:     "pt-004",
			SiteID: "building-b",
			Name:   "zone1/supply_temp",
			Type:   "temperature",
		}

		if err := repo.CreatePoint(ctx, point); err != nil {
			t.Errorf("CreatePoint() error = %v, want nil (names are site-scoped)", err)
		}
	})

	t.Run("rejects unknown device", func(t *testing.T) {
		deviceID := "ghost"
		point := &Point{
			ID:       "pt-005",
			SiteID:   "building-a",
			DeviceID: &deviceID,
			Name:     "zone2/return_temp",
			Type:     "temperature",
		}

		err := repo.CreatePoint(ctx, point)
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("CreatePoint() error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("finds point by site-scoped name", func(t *testing.T) {
		got, err := repo.GetPointByName(ctx, "building-a", "zone1/supply_temp")
		if err != nil {
			t.Fatalf("GetPointByName() error = %v", err)
		}
		if got.ID != "pt-001" {
			t.Errorf("ID = %q, want pt-001", got.ID)
		}

		_, err = repo.GetPointByName(ctx, "building-b", "outdoor_temp")
		if !errors.Is(err, ErrPointNotFound) {
			t.Errorf("GetPointByName() error = %v, want ErrPointNotFound", err)
		}
	})
}

func TestSQLiteRepository_DeleteSiteCascades(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	seedSite(t, repo, "building-a")

	if err := repo.CreateDevice(ctx, &Device{ID: "hvac-001", SiteID: "building-a"}); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	if err := repo.CreatePoint(ctx, &Point{ID: "pt-001", SiteID: "building-a", Name: "t1", Type: "temperature"}); err != nil {
		t.Fatalf("seeding point: %v", err)
	}

	if err := repo.DeleteSite(ctx, "building-a"); err != nil {
		t.Fatalf("DeleteSite() error = %v", err)
	}

	if _, err := repo.GetSite(ctx, "building-a"); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("GetSite() error = %v, want ErrSiteNotFound", err)
	}
	if _, err := repo.GetDevice(ctx, "hvac-001"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound (cascade)", err)
	}
	if _, err := repo.GetPoint(ctx, "pt-001"); !errors.Is(err, ErrPointNotFound) {
		t.Errorf("GetPoint() error = %v, want ErrPointNotFound (cascade)", err)
	}

	t.Run("deleting missing site errors", func(t *testing.T) {
		if err := repo.DeleteSite(ctx, "building-a"); !errors.Is(err, ErrSiteNotFound) {
			t.Errorf("DeleteSite() error = %v, want ErrSiteNotFound", err)
		}
	})
}

func TestSQLiteRepository_Existence(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	seedSite(t, repo, "building-a")

	if err := repo.CreateDevice(ctx, &Device{ID: "hvac-001", SiteID: "building-a"}); err != nil {
		t.Fatalf("seeding device: %v", err)
	}

	tests := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{"known site", func() (bool, error) { return repo.SiteExists(ctx, "building-a") }, true},
		{"unknown site", func() (bool, error) { return repo.SiteExists(ctx, "nowhere") }, false},
		{"known device", func() (bool, error) { return repo.DeviceExists(ctx, "hvac-001") }, true},
		{"unknown device", func() (bool, error) { return repo.DeviceExists(ctx, "ghost") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check()
			if err != nil {
				t.Fatalf("existence check error = %v", err)
			}
			if got != tt.want {
				t.Errorf("exists = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"valid site", (&Site{ID: "s1", DisplayName: "S"}).Validate(), nil},
		{"site missing id", (&Site{DisplayName: "S"}).Validate(), ErrInvalidSite},
		{"site id with whitespace", (&Site{ID: "s 1", DisplayName: "S"}).Validate(), ErrInvalidSite},
		{"valid device", (&Device{ID: "d1", SiteID: "s1"}).Validate(), nil},
		{"device missing site", (&Device{ID: "d1"}).Validate(), ErrInvalidDevice},
		{"valid point", (&Point{ID: "p1", SiteID: "s1", Name: "n", Type: "temperature"}).Validate(), nil},
		{"point missing name", (&Point{ID: "p1", SiteID: "s1", Type: "temperature"}).Validate(), ErrInvalidPoint},
		{"point missing type", (&Point{ID: "p1", SiteID: "s1", Name: "n"}).Validate(), ErrInvalidPoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr == nil {
				if tt.err != nil {
					t.Errorf("Validate() error = %v, want nil", tt.err)
				}
				return
			}
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", tt.err, tt.wantErr)
			}
		})
	}
}
