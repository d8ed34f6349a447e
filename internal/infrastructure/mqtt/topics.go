package mqtt

import "fmt"

// Topic prefixes for the Fieldcore message bus.
//
// All topics use the flat scheme: fieldcore/{category}/{identifier...}
const (
	// TopicPrefix is the base for all Fieldcore topics.
	TopicPrefix = "fieldcore"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "fieldcore/system"
)

// Topics provides builders for Fieldcore MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	hbTopic := topics.Heartbeat("dev-001")
//	// Returns: "fieldcore/heartbeat/dev-001"
type Topics struct{}

// Heartbeat returns the topic a device publishes its heartbeats to.
//
// Example: fieldcore/heartbeat/dev-001
func (Topics) Heartbeat(deviceID string) string {
	return fmt.Sprintf("%s/heartbeat/%s", TopicPrefix, deviceID)
}

// Measurement returns the topic a device publishes point readings to.
//
// Example: fieldcore/measurement/site-001/supply-air-temp
func (Topics) Measurement(siteID, pointName string) string {
	return fmt.Sprintf("%s/measurement/%s/%s", TopicPrefix, siteID, pointName)
}

// SystemStatus returns the service status topic, also used for the LWT.
//
// Example: fieldcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllHeartbeats returns a pattern matching every device heartbeat.
//
// Pattern: fieldcore/heartbeat/+
func (Topics) AllHeartbeats() string {
	return fmt.Sprintf("%s/heartbeat/+", TopicPrefix)
}

// AllMeasurements returns a pattern matching every published reading.
//
// Pattern: fieldcore/measurement/+/+
func (Topics) AllMeasurements() string {
	return fmt.Sprintf("%s/measurement/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Fieldcore topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: fieldcore/#
func (Topics) AllTopics() string {
	return "fieldcore/#"
}
