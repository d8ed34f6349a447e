package catalog

import "errors"

// Domain errors for the catalog package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, catalog.ErrSiteNotFound) {
//	    // handle referential failure
//	}
var (
	// ErrSiteNotFound is returned when a site ID does not exist.
	ErrSiteNotFound = errors.New("catalog: site not found")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("catalog: device not found")

	// ErrPointNotFound is returned when a point ID does not exist.
	ErrPointNotFound = errors.New("catalog: point not found")

	// ErrSiteExists is returned when creating a site with an ID that already exists.
	ErrSiteExists = errors.New("catalog: site already exists")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("catalog: device already exists")

	// ErrPointExists is returned when creating a point with an ID that already exists.
	ErrPointExists = errors.New("catalog: point already exists")

	// ErrPointNameTaken is returned when a point name is already used within the site.
	// Point names are scoped per site, not globally.
	ErrPointNameTaken = errors.New("catalog: point name already taken in site")

	// ErrInvalidSite is returned when site validation fails.
	ErrInvalidSite = errors.New("catalog: invalid site")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("catalog: invalid device")

	// ErrInvalidPoint is returned when point validation fails.
	ErrInvalidPoint = errors.New("catalog: invalid point")
)
