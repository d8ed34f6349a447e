package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ventra-io/fieldcore/internal/infrastructure/logging"
	"github.com/ventra-io/fieldcore/internal/infrastructure/mqtt"
)

// mqttHandlerTimeout bounds the storage work done per received message.
const mqttHandlerTimeout = 10 * time.Second

// Subscriber feeds telemetry published on the MQTT bus into the
// ingestion service. It is an optional transport; gateways that cannot
// hold an HTTP session publish instead.
type Subscriber struct {
	svc    *Service
	client *mqtt.Client
	logger *logging.Logger
}

// NewSubscriber creates an MQTT subscriber over a connected client.
func NewSubscriber(svc *Service, client *mqtt.Client, logger *logging.Logger) *Subscriber {
	return &Subscriber{
		svc:    svc,
		client: client,
		logger: logger.With("component", "ingest-mqtt"),
	}
}

// Start subscribes to the heartbeat and measurement topics. Subscriptions
// are restored automatically by the client on reconnect.
func (s *Subscriber) Start() error {
	topics := mqtt.Topics{}
	if err := s.client.Subscribe(topics.AllHeartbeats(), 1, s.handleHeartbeat); err != nil {
		return err
	}
	return s.client.Subscribe(topics.AllMeasurements(), 1, s.handleMeasurement)
}

// handleHeartbeat processes fieldcore/heartbeat/{device_id}. The payload
// is a single HeartbeatRecord; an absent device_id is filled from the
// topic. Errors are logged, never redelivered: a bad heartbeat will be
// superseded by the next one anyway.
func (s *Subscriber) handleHeartbeat(topic string, payload []byte) error {
	var rec HeartbeatRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.logger.Warn("malformed heartbeat payload", "topic", topic, "error", err)
		return nil
	}
	if rec.DeviceID == "" {
		rec.DeviceID = topicSuffix(topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttHandlerTimeout)
	defer cancel()
	if err := s.svc.Heartbeat(ctx, rec, time.Now().UTC()); err != nil {
		s.logger.Warn("heartbeat rejected",
			"topic", topic,
			"device_id", rec.DeviceID,
			"kind", Classify(err).String(),
			"error", err)
	}
	return nil
}

// handleMeasurement processes fieldcore/measurement/{site_id}/{point_name}.
// Site and point addressing absent from the payload are filled from the
// topic.
func (s *Subscriber) handleMeasurement(topic string, payload []byte) error {
	var rec MeasurementRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.logger.Warn("malformed measurement payload", "topic", topic, "error", err)
		return nil
	}
	parts := strings.Split(topic, "/")
	if len(parts) >= 4 {
		if rec.SiteID == "" {
			rec.SiteID = parts[2]
		}
		if rec.PointID == "" && rec.PointName == "" {
			rec.PointName = parts[3]
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttHandlerTimeout)
	defer cancel()
	if err := s.svc.Measurement(ctx, rec); err != nil {
		s.logger.Warn("measurement rejected",
			"topic", topic,
			"site_id", rec.SiteID,
			"kind", Classify(err).String(),
			"error", err)
	}
	return nil
}

func topicSuffix(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 {
		return topic
	}
	return topic[idx+1:]
}
