package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Site is a physical location (building, plant) that owns devices and points.
//
// Sites are immutable apart from display metadata.
type Site struct {
	// ID is the unique site identifier (e.g., "building-a").
	ID string `json:"site_id"`

	// DisplayName is the human-readable site name.
	DisplayName string `json:"display_name"`

	// Timezone is the IANA timezone name for the site (default UTC).
	// Measurement timestamps are always stored in UTC; the timezone is
	// display metadata only.
	Timezone string `json:"tz"`

	// CreatedAt is when the site was provisioned (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Device is a field unit (HVAC controller, gateway) reporting into a site.
//
// A device may exist without ever reporting state.
type Device struct {
	// ID is the unique device identifier (e.g., "hvac-001").
	ID string `json:"device_id"`

	// SiteID is the owning site. Required; deleting the site deletes the device.
	SiteID string `json:"site_id"`

	// Model is the optional hardware model string.
	Model *string `json:"model,omitempty"`

	// CreatedAt is when the device was provisioned (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Point is a single measurable quantity (sensor reading or setpoint).
//
// Points belong to a site and optionally to a device; site-level points
// (e.g., outdoor air temperature) have no device. Point names are unique
// within their site.
type Point struct {
	// ID is the unique point identifier.
	ID string `json:"point_id"`

	// SiteID is the owning site. Required.
	SiteID string `json:"site_id"`

	// DeviceID is the optional owning device.
	DeviceID *string `json:"device_id,omitempty"`

	// Name is the point name, unique per site (e.g., "zone1/supply_temp").
	Name string `json:"point_name"`

	// Type classifies the point (e.g., "temperature", "pressure", "status").
	Type string `json:"point_type"`

	// Unit is the optional engineering unit (e.g., "degC", "kPa").
	Unit *string `json:"unit,omitempty"`

	// Tags is a free-form tag map for grouping and search.
	Tags map[string]string `json:"tags"`

	// Active indicates whether the point is currently in service.
	// Inactive points keep their history but are skipped by view refresh.
	Active bool `json:"active"`

	// CreatedAt is when the point was provisioned (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Identifier length bounds shared by all catalog entities.
const (
	maxIDLength   = 128
	maxNameLength = 255
)

// Validate checks site fields before persistence.
func (s *Site) Validate() error {
	if err := validateID(s.ID); err != nil {
		return fmt.Errorf("%w: site_id %v", ErrInvalidSite, err)
	}
	if s.DisplayName == "" {
		return fmt.Errorf("%w: display_name is required", ErrInvalidSite)
	}
	if len(s.DisplayName) > maxNameLength {
		return fmt.Errorf("%w: display_name exceeds %d characters", ErrInvalidSite, maxNameLength)
	}
	return nil
}

// Validate checks device fields before persistence.
func (d *Device) Validate() error {
	if err := validateID(d.ID); err != nil {
		return fmt.Errorf("%w: device_id %v", ErrInvalidDevice, err)
	}
	if err := validateID(d.SiteID); err != nil {
		return fmt.Errorf("%w: site_id %v", ErrInvalidDevice, err)
	}
	return nil
}

// Validate checks point fields before persistence.
func (p *Point) Validate() error {
	if err := validateID(p.ID); err != nil {
		return fmt.Errorf("%w: point_id %v", ErrInvalidPoint, err)
	}
	if err := validateID(p.SiteID); err != nil {
		return fmt.Errorf("%w: site_id %v", ErrInvalidPoint, err)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: point_name is required", ErrInvalidPoint)
	}
	if len(p.Name) > maxNameLength {
		return fmt.Errorf("%w: point_name exceeds %d characters", ErrInvalidPoint, maxNameLength)
	}
	if p.Type == "" {
		return fmt.Errorf("%w: point_type is required", ErrInvalidPoint)
	}
	return nil
}

// validateID checks the common identifier rules.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("is required")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("exceeds %d characters", maxIDLength)
	}
	if strings.ContainsAny(id, " \t\n") {
		return fmt.Errorf("must not contain whitespace")
	}
	return nil
}
