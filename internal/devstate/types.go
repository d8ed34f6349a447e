package devstate

import (
	"fmt"
	"strings"
	"time"
)

// Status is a device's self-reported operational condition.
type Status string

const (
	StatusReady    Status = "ready"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// ParseStatus validates a reported status string.
//
// Returns:
//   - Status: The parsed status
//   - error: ErrInvalidReport if the value is not a known status
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusReady, StatusDegraded, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidReport, s)
}

// DeviceState is the stored operational row of one device. Pointer fields
// are nil until some heartbeat has reported them.
type DeviceState struct {
	DeviceID      string
	SiteID        string
	LastSeen      time.Time
	LastUpload    *time.Time
	QueueDepth    *int
	AgentVersion  *string
	PollIntervalS *int
	CPUPct        *float64
	DiskFreeGB    *float64
	Status        Status
	UpdatedAt     time.Time
}

// Report is one heartbeat's payload: every field beyond the identifiers
// is optional, and an absent field leaves the stored value untouched.
type Report struct {
	DeviceID      string
	SiteID        string
	Status        *Status
	AgentVersion  *string
	CPUPct        *float64
	DiskFreeGB    *float64
	QueueDepth    *int
	PollIntervalS *int
	LastUpload    *time.Time
}

// Validate checks the identifying fields a report cannot omit and
// canonicalises the status, so the value that reaches storage always
// matches the lowercase enumeration.
func (r *Report) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidReport)
	}
	if strings.TrimSpace(r.SiteID) == "" {
		return fmt.Errorf("%w: site_id is required", ErrInvalidReport)
	}
	if r.Status != nil {
		parsed, err := ParseStatus(string(*r.Status))
		if err != nil {
			return err
		}
		*r.Status = parsed
	}
	return nil
}
