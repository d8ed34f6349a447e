// Package catalog is the registry of sites, devices, and points.
//
// It defines identity and referential integrity for the rest of the system:
// no measurement or device-state row may reference a site, device, or point
// that the catalog does not know about. Enforcement is FK-driven at write
// time (the database opens with foreign_keys=on), and deleting a site
// cascades through its devices and points to device state and measurements.
//
// The one invariant the schema alone cannot express in a readable error is
// point-name scoping: point names are unique per site, not globally. The
// repository maps the underlying UNIQUE constraint violation to
// ErrPointNameTaken so callers can distinguish a caller bug from storage
// trouble.
//
// Catalog rows are created by provisioning and rarely change; there is no
// caching layer because lookups are cheap primary-key reads.
package catalog
