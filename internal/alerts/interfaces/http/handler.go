package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	"coldchain-cloud/internal/auth"
)

const timeLayout = time.RFC3339

// Handler provides alert HTTP endpoints.
type Handler struct {
	lifecycle   *alertapp.Lifecycle
	unitChecker auth.UnitOrganizationChecker
}

// NewHandler constructs a handler.
func NewHandler(lifecycle *alertapp.Lifecycle, unitChecker auth.UnitOrganizationChecker) (*Handler, error) {
	if lifecycle == nil {
		return nil, errors.New("alerts handler: nil lifecycle")
	}
	return &Handler{lifecycle: lifecycle, unitChecker: unitChecker}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alerts":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/alerts/"):
		h.handleAlert(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	organizationID := auth.OrganizationIDFromContext(r.Context())
	if organizationID != "" && filter.UnitID != "" {
		if err := ensureUnitOrganization(r, h.unitChecker, organizationID, filter.UnitID); err != nil {
			respondOrganizationError(w, err)
			return
		}
	}

	list, err := h.lifecycle.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleAlert(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, parts[0])
	case len(parts) == 2:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAction(w, r, parts[0], parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	alert, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if alert == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.checkAlertOrganization(r, alert); err != nil {
		respondOrganizationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	actorID := auth.SubjectFromContext(r.Context())

	existing, err := h.lifecycle.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.checkAlertOrganization(r, existing); err != nil {
		respondOrganizationError(w, err)
		return
	}

	var alert *alerts.Alert
	switch action {
	case "ack":
		alert, err = h.lifecycle.Acknowledge(r.Context(), id, actorID)
	case "resolve":
		alert, err = h.lifecycle.Resolve(r.Context(), id, actorID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if errors.Is(err, alerts.ErrAlreadyResolved) {
			http.Error(w, "alert already resolved", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(alert)
}

func (h *Handler) checkAlertOrganization(r *http.Request, alert *alerts.Alert) error {
	organizationID := auth.OrganizationIDFromContext(r.Context())
	if organizationID == "" || alert == nil {
		return nil
	}
	return ensureUnitOrganization(r, h.unitChecker, organizationID, alert.UnitID)
}

func ensureUnitOrganization(r *http.Request, checker auth.UnitOrganizationChecker, organizationID, unitID string) error {
	if checker == nil || organizationID == "" || unitID == "" {
		return nil
	}
	return checker.EnsureUnitOrganization(r.Context(), organizationID, unitID)
}

func respondOrganizationError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrOrganizationMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "organization check failed", http.StatusInternalServerError)
}

func parseFilter(r *http.Request) (alertrepo.Filter, error) {
	q := r.URL.Query()
	filter := alertrepo.Filter{
		UnitID: q.Get("unit_id"),
		SiteID: q.Get("site_id"),
		Status: q.Get("status"),
		Type:   q.Get("type"),
	}
	var err error
	if filter.From, err = parseTimeQuery(q.Get("from")); err != nil {
		return filter, errors.New("from must be RFC3339")
	}
	if filter.To, err = parseTimeQuery(q.Get("to")); err != nil {
		return filter, errors.New("to must be RFC3339")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return filter, errors.New("to must be after from")
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseTimeQuery(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
