// Package ingest is the write path: it validates incoming heartbeats and
// point readings, resolves them against the catalog, and hands them to
// the device state store and the measurement log.
//
// # Batch semantics
//
// A heartbeat batch is processed per device: a malformed or unknown entry
// is skipped and logged, the rest of the batch proceeds, and the response
// names only the devices that were actually updated. A storage failure is
// different in kind from a bad entry; it aborts the batch so that nothing
// unprocessed can be mistaken for reconciled.
//
// # Transports
//
// The same service backs both transports: the HTTP API handlers and the
// optional MQTT subscriber both decode their payloads into the record
// types here and call the service.
package ingest
