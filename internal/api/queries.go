package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ventra-io/fieldcore/internal/catalog"
	"github.com/ventra-io/fieldcore/internal/devstate"
	"github.com/ventra-io/fieldcore/internal/mlog"
	"github.com/ventra-io/fieldcore/internal/views"
)

// defaultHistoryLimit caps history responses when the client gives none.
const defaultHistoryLimit = 1000

// measurementResponse is the wire form of one stored measurement.
type measurementResponse struct {
	SiteID    string   `json:"site_id"`
	PointID   string   `json:"point_id"`
	PointName string   `json:"point_name"`
	Unit      *string  `json:"unit,omitempty"`
	TS        string   `json:"ts_utc"`
	Value     *float64 `json:"value"`
	Quality   *int     `json:"quality,omitempty"`
}

func toMeasurementResponse(m mlog.Measurement) measurementResponse {
	return measurementResponse{
		SiteID:    m.SiteID,
		PointID:   m.PointID,
		PointName: m.PointName,
		Unit:      m.Unit,
		TS:        m.TS.Format(time.RFC3339Nano),
		Value:     m.Value,
		Quality:   m.Quality,
	}
}

// latestResponse is the wire form of one latest-view row.
type latestResponse struct {
	PointID     string   `json:"point_id"`
	SiteID      string   `json:"site_id"`
	PointName   string   `json:"point_name"`
	Unit        *string  `json:"unit,omitempty"`
	TS          string   `json:"ts_utc"`
	Value       *float64 `json:"value"`
	Quality     *int     `json:"quality,omitempty"`
	RefreshedAt string   `json:"refreshed_at,omitempty"`
}

func toLatestResponse(v *views.LatestValue) latestResponse {
	resp := latestResponse{
		PointID:   v.PointID,
		SiteID:    v.SiteID,
		PointName: v.PointName,
		Unit:      v.Unit,
		TS:        v.TS.Format(time.RFC3339Nano),
		Value:     v.Value,
		Quality:   v.Quality,
	}
	if !v.RefreshedAt.IsZero() {
		resp.RefreshedAt = v.RefreshedAt.Format(time.RFC3339Nano)
	}
	return resp
}

// parseRange extracts from/to/limit query parameters. from defaults to
// the zero time, to defaults to now, limit to defaultHistoryLimit.
func parseRange(r *http.Request) (from, to time.Time, limit int, err error) {
	q := r.URL.Query()
	to = time.Now().UTC()
	limit = defaultHistoryLimit

	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return from, to, limit, errors.New("bad 'from' timestamp: " + v)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return from, to, limit, errors.New("bad 'to' timestamp: " + v)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return from, to, limit, errors.New("bad 'limit': " + v)
		}
		limit = n
	}
	return from, to, limit, nil
}

// handlePointHistory processes GET /api/v1/points/{id}/history.
func (s *Server) handlePointHistory(w http.ResponseWriter, r *http.Request) {
	pointID := chi.URLParam(r, "id")
	from, to, limit, err := parseRange(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	point, err := s.catalog.GetPoint(r.Context(), pointID)
	if err != nil {
		if errors.Is(err, catalog.ErrPointNotFound) {
			writeNotFound(w, "point not found: "+pointID)
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	rows, err := s.log.PointRange(r.Context(), point.SiteID, pointID, from, to, limit)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]measurementResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMeasurementResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"measurements": out})
}

// handleSiteHistory processes GET /api/v1/sites/{id}/history.
func (s *Server) handleSiteHistory(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	from, to, limit, err := parseRange(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if exists, err := s.catalog.SiteExists(r.Context(), siteID); err != nil {
		writeInternalError(w, err.Error())
		return
	} else if !exists {
		writeNotFound(w, "site not found: "+siteID)
		return
	}

	rows, err := s.log.SiteRange(r.Context(), siteID, from, to, limit)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]measurementResponse, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMeasurementResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"measurements": out})
}

// handleListLatest processes GET /api/v1/points/latest, optionally
// filtered with ?site_id=.
func (s *Server) handleListLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := s.views.ListLatest(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]latestResponse, 0, len(rows))
	for _, v := range rows {
		out = append(out, toLatestResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": out})
}

// handlePointLatest processes GET /api/v1/points/{id}/latest.
func (s *Server) handlePointLatest(w http.ResponseWriter, r *http.Request) {
	pointID := chi.URLParam(r, "id")
	v, err := s.views.PointLatest(r.Context(), pointID)
	if err != nil {
		if errors.Is(err, views.ErrPointNotFound) {
			writeNotFound(w, "no latest value for point: "+pointID)
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLatestResponse(v))
}

// handleSiteRecent processes GET /api/v1/sites/{id}/recent: the live
// recent-activity view filtered to one site.
func (s *Server) handleSiteRecent(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "id")
	rows, err := s.views.Recent(r.Context(), time.Now().UTC())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]latestResponse, 0, len(rows))
	for _, v := range rows {
		if v.SiteID != siteID {
			continue
		}
		out = append(out, toLatestResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": out})
}

// staleDeviceResponse is the wire form of one stale-device entry.
type staleDeviceResponse struct {
	DeviceID   string `json:"device_id"`
	SiteID     string `json:"site_id"`
	LastSeen   string `json:"last_seen_ts"`
	AgeSeconds int64  `json:"age_seconds"`
	Status     string `json:"status,omitempty"`
}

// handleStaleDevices processes GET /api/v1/devices/stale, most stale
// first.
func (s *Server) handleStaleDevices(w http.ResponseWriter, r *http.Request) {
	rows, err := s.views.StaleDevices(r.Context(), time.Now().UTC())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]staleDeviceResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, staleDeviceResponse{
			DeviceID:   d.DeviceID,
			SiteID:     d.SiteID,
			LastSeen:   d.LastSeen.Format(time.RFC3339Nano),
			AgeSeconds: int64(d.Age.Seconds()),
			Status:     string(d.Status),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// deviceStateResponse is the wire form of one device's state row.
type deviceStateResponse struct {
	DeviceID      string   `json:"device_id"`
	SiteID        string   `json:"site_id"`
	LastSeen      string   `json:"last_seen_ts"`
	LastUpload    *string  `json:"last_upload_ts,omitempty"`
	QueueDepth    *int     `json:"queue_depth,omitempty"`
	AgentVersion  *string  `json:"agent_version,omitempty"`
	PollIntervalS *int     `json:"poll_interval_s,omitempty"`
	CPUPct        *float64 `json:"cpu_pct,omitempty"`
	DiskFreeGB    *float64 `json:"disk_free_gb,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// handleGetDeviceState processes GET /api/v1/devices/{id}/state.
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	st, err := s.states.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, devstate.ErrDeviceNotFound) {
			writeNotFound(w, "no state for device: "+deviceID)
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	resp := deviceStateResponse{
		DeviceID:      st.DeviceID,
		SiteID:        st.SiteID,
		LastSeen:      st.LastSeen.Format(time.RFC3339Nano),
		QueueDepth:    st.QueueDepth,
		AgentVersion:  st.AgentVersion,
		PollIntervalS: st.PollIntervalS,
		CPUPct:        st.CPUPct,
		DiskFreeGB:    st.DiskFreeGB,
		Status:        string(st.Status),
	}
	if st.LastUpload != nil {
		v := st.LastUpload.Format(time.RFC3339Nano)
		resp.LastUpload = &v
	}
	writeJSON(w, http.StatusOK, resp)
}
