package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"coldchain-cloud/internal/auth"
	org "coldchain-cloud/internal/org/domain"
	units "coldchain-cloud/internal/units/domain"
)

// StateReader serves per-unit runtime state.
type StateReader interface {
	Get(ctx context.Context, unitID string) (*units.State, error)
}

// UnitDirectory reads unit records from the organizational store.
type UnitDirectory interface {
	Get(ctx context.Context, unitID string) (*org.Unit, error)
	ListAll(ctx context.Context) ([]org.Unit, error)
}

// Handler provides unit status HTTP endpoints.
type Handler struct {
	directory UnitDirectory
	states    StateReader
}

// NewHandler constructs a handler.
func NewHandler(directory UnitDirectory, states StateReader) (*Handler, error) {
	if directory == nil {
		return nil, errors.New("units handler: nil unit directory")
	}
	if states == nil {
		return nil, errors.New("units handler: nil state reader")
	}
	return &Handler{directory: directory, states: states}, nil
}

type unitStatus struct {
	UnitID          string     `json:"unit_id"`
	Name            string     `json:"name"`
	SiteID          string     `json:"site_id"`
	AreaID          string     `json:"area_id,omitempty"`
	HasSensors      bool       `json:"has_sensors"`
	CurrentStatus   string     `json:"current_status"`
	StatusEnteredAt *time.Time `json:"status_entered_at,omitempty"`
	LastReadingAt   *time.Time `json:"last_reading_at,omitempty"`
	DoorOpen        bool       `json:"door_open"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// ServeHTTP handles /api/v1/units and /api/v1/units/{id}/status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/units":
		h.handleList(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/units/"):
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/units/")
		parts := strings.Split(path, "/")
		if len(parts) != 2 || parts[1] != "status" || parts[0] == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.handleStatus(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.directory.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	organizationID := auth.OrganizationIDFromContext(r.Context())
	siteID := r.URL.Query().Get("site_id")

	list := make([]unitStatus, 0, len(all))
	for _, unit := range all {
		if organizationID != "" && unit.OrganizationID != organizationID {
			continue
		}
		if siteID != "" && unit.SiteID != siteID {
			continue
		}
		status, err := h.statusFor(r.Context(), unit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		list = append(list, status)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, unitID string) {
	unit, err := h.directory.Get(r.Context(), unitID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if unit == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if organizationID := auth.OrganizationIDFromContext(r.Context()); organizationID != "" && unit.OrganizationID != organizationID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	status, err := h.statusFor(r.Context(), *unit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// statusFor joins the directory record with runtime state. Units the
// evaluator has never touched read as healthy, or manual-logging when
// no sensor is assigned.
func (h *Handler) statusFor(ctx context.Context, unit org.Unit) (unitStatus, error) {
	status := unitStatus{
		UnitID:     unit.ID,
		Name:       unit.Name,
		SiteID:     unit.SiteID,
		AreaID:     unit.AreaID,
		HasSensors: unit.HasSensors(),
	}

	state, err := h.states.Get(ctx, unit.ID)
	if err != nil {
		return unitStatus{}, err
	}
	if state == nil {
		status.CurrentStatus = units.StatusOK
		if !unit.HasSensors() {
			status.CurrentStatus = units.StatusManualRequired
		}
		return status, nil
	}

	status.CurrentStatus = state.CurrentStatus
	status.DoorOpen = state.LastDoorOpen
	status.StatusEnteredAt = timePtr(state.StatusEnteredAt)
	status.LastReadingAt = timePtr(state.LastReadingAt)
	status.UpdatedAt = timePtr(state.UpdatedAt)
	return status, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
