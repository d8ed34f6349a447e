// Package mqtt provides MQTT client connectivity for Fieldcore.
//
// It wraps paho.mqtt.golang with connection management, automatic
// reconnection with exponential backoff, subscription restoration, and
// Last Will and Testament for offline detection.
//
// # Role
//
// MQTT is an optional ingestion path: field gateways that already speak
// MQTT can publish heartbeats and readings to the broker instead of (or
// alongside) the HTTP API.
//
//	Field gateways → MQTT Broker → Fieldcore
//
// # Topics
//
// Topic construction goes through the Topics builders so naming stays
// consistent:
//
//	fieldcore/heartbeat/{device_id}         device heartbeats
//	fieldcore/measurement/{site}/{point}    point readings
//	fieldcore/system/status                 service online/offline status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllHeartbeats(), 1, handler)
package mqtt
