package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ventra-io/fieldcore/internal/ingest"
)

// heartbeatPayload accepts both wire shapes: a single heartbeat record,
// or a batch wrapped in a "devices" array.
type heartbeatPayload struct {
	ingest.HeartbeatRecord
	Devices []ingest.HeartbeatRecord `json:"devices"`
}

// handleHeartbeat processes POST /api/v1/heartbeat.
//
// A single record is strict: any defect fails the request. A batch is
// processed per device; defective entries are skipped and the response
// names only the devices actually updated.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload heartbeatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	receivedAt := time.Now().UTC()

	if payload.Devices == nil {
		if err := s.ingest.Heartbeat(r.Context(), payload.HeartbeatRecord, receivedAt); err != nil {
			writeIngestError(w, err)
			return
		}
		// Same shape as the batch response, so callers parse one contract.
		writeJSON(w, http.StatusOK, &ingest.BatchResult{
			Updated:    []string{payload.DeviceID},
			ReceivedAt: receivedAt,
		})
		return
	}

	result, err := s.ingest.HeartbeatBatch(r.Context(), payload.Devices, receivedAt)
	if err != nil {
		if errors.Is(err, ingest.ErrBatchAborted) {
			// Partial progress is reported alongside the failure so the
			// caller knows which devices were reconciled before it.
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":   err.Error(),
				"updated": result.Updated,
				"skipped": result.Skipped,
			})
			return
		}
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAppendMeasurement processes POST /api/v1/measurements.
func (s *Server) handleAppendMeasurement(w http.ResponseWriter, r *http.Request) {
	var rec ingest.MeasurementRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	if err := s.ingest.Measurement(r.Context(), rec); err != nil {
		writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}
