package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ventra-io/fieldcore/internal/audit"
	"github.com/ventra-io/fieldcore/internal/catalog"
)

// siteRequest is the wire form for creating a site.
type siteRequest struct {
	SiteID      string `json:"site_id"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"tz,omitempty"`
}

// siteResponse is the wire form of one site.
type siteResponse struct {
	SiteID      string `json:"site_id"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"tz"`
	CreatedAt   string `json:"created_at"`
}

func toSiteResponse(s *catalog.Site) siteResponse {
	return siteResponse{
		SiteID:      s.ID,
		DisplayName: s.DisplayName,
		Timezone:    s.Timezone,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339Nano),
	}
}

// handleCreateSite processes POST /api/v1/sites.
func (s *Server) handleCreateSite(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	site := &catalog.Site{ID: req.SiteID, DisplayName: req.DisplayName, Timezone: req.Timezone}
	if err := s.catalog.CreateSite(r.Context(), site); err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidSite):
			writeBadRequest(w, err.Error())
		case errors.Is(err, catalog.ErrSiteExists):
			writeConflict(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	created, err := s.catalog.GetSite(r.Context(), site.ID)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntitySite, site.ID,
		map[string]any{"display_name": site.DisplayName})
	writeJSON(w, http.StatusCreated, toSiteResponse(created))
}

// handleListSites processes GET /api/v1/sites.
func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.catalog.ListSites(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]siteResponse, 0, len(sites))
	for i := range sites {
		out = append(out, toSiteResponse(&sites[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out})
}

// handleGetSite processes GET /api/v1/sites/{id}.
func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.catalog.GetSite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, catalog.ErrSiteNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSiteResponse(site))
}

// handleDeleteSite processes DELETE /api/v1/sites/{id}. Deleting a site
// cascades to its devices, points, state, and measurements.
func (s *Server) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteSite(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, catalog.ErrSiteNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	s.recordAudit(r, audit.ActionDelete, audit.EntitySite, chi.URLParam(r, "id"), nil)
	writeJSON(w, http.StatusNoContent, nil)
}

// deviceRequest is the wire form for registering a device.
type deviceRequest struct {
	DeviceID string  `json:"device_id"`
	SiteID   string  `json:"site_id"`
	Model    *string `json:"model,omitempty"`
}

// deviceResponse is the wire form of one device.
type deviceResponse struct {
	DeviceID  string  `json:"device_id"`
	SiteID    string  `json:"site_id"`
	Model     *string `json:"model,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toDeviceResponse(d *catalog.Device) deviceResponse {
	return deviceResponse{
		DeviceID:  d.ID,
		SiteID:    d.SiteID,
		Model:     d.Model,
		CreatedAt: d.CreatedAt.Format(time.RFC3339Nano),
	}
}

// handleCreateDevice processes POST /api/v1/devices.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	device := &catalog.Device{ID: req.DeviceID, SiteID: req.SiteID, Model: req.Model}
	if err := s.catalog.CreateDevice(r.Context(), device); err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidDevice):
			writeBadRequest(w, err.Error())
		case errors.Is(err, catalog.ErrDeviceExists):
			writeConflict(w, err.Error())
		case errors.Is(err, catalog.ErrSiteNotFound):
			writeNotFound(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	created, err := s.catalog.GetDevice(r.Context(), device.ID)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntityDevice, device.ID,
		map[string]any{"site_id": device.SiteID})
	writeJSON(w, http.StatusCreated, toDeviceResponse(created))
}

// handleGetDevice processes GET /api/v1/devices/{id}.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.catalog.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, catalog.ErrDeviceNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(device))
}

// handleListDevices processes GET /api/v1/sites/{id}/devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.catalog.ListDevices(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for i := range devices {
		out = append(out, toDeviceResponse(&devices[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// pointRequest is the wire form for registering a point.
type pointRequest struct {
	PointID   string            `json:"point_id"`
	SiteID    string            `json:"site_id"`
	DeviceID  *string           `json:"device_id,omitempty"`
	PointName string            `json:"point_name"`
	PointType string            `json:"point_type"`
	Unit      *string           `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// pointResponse is the wire form of one point.
type pointResponse struct {
	PointID   string            `json:"point_id"`
	SiteID    string            `json:"site_id"`
	DeviceID  *string           `json:"device_id,omitempty"`
	PointName string            `json:"point_name"`
	PointType string            `json:"point_type"`
	Unit      *string           `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Active    bool              `json:"active"`
	CreatedAt string            `json:"created_at"`
}

func toPointResponse(p *catalog.Point) pointResponse {
	return pointResponse{
		PointID:   p.ID,
		SiteID:    p.SiteID,
		DeviceID:  p.DeviceID,
		PointName: p.Name,
		PointType: p.Type,
		Unit:      p.Unit,
		Tags:      p.Tags,
		Active:    p.Active,
		CreatedAt: p.CreatedAt.Format(time.RFC3339Nano),
	}
}

// handleCreatePoint processes POST /api/v1/points.
func (s *Server) handleCreatePoint(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	point := &catalog.Point{
		ID:       req.PointID,
		SiteID:   req.SiteID,
		DeviceID: req.DeviceID,
		Name:     req.PointName,
		Type:     req.PointType,
		Unit:     req.Unit,
		Tags:     req.Tags,
		Active:   true,
	}
	if err := s.catalog.CreatePoint(r.Context(), point); err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidPoint):
			writeBadRequest(w, err.Error())
		case errors.Is(err, catalog.ErrPointExists), errors.Is(err, catalog.ErrPointNameTaken):
			writeConflict(w, err.Error())
		case errors.Is(err, catalog.ErrSiteNotFound), errors.Is(err, catalog.ErrDeviceNotFound):
			writeNotFound(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	created, err := s.catalog.GetPoint(r.Context(), point.ID)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntityPoint, point.ID,
		map[string]any{"site_id": point.SiteID, "point_name": point.Name})
	writeJSON(w, http.StatusCreated, toPointResponse(created))
}

// handleGetPoint processes GET /api/v1/points/{id}.
func (s *Server) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	point, err := s.catalog.GetPoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, catalog.ErrPointNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPointResponse(point))
}

// handleListPoints processes GET /api/v1/sites/{id}/points.
func (s *Server) handleListPoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.catalog.ListPoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]pointResponse, 0, len(points))
	for i := range points {
		out = append(out, toPointResponse(&points[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": out})
}
