package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/victoredede21/xss-educational-lab/internal/catalog"
	"github.com/victoredede21/xss-educational-lab/internal/dispatch"
	"github.com/victoredede21/xss-educational-lab/internal/eventlog"
	"github.com/victoredede21/xss-educational-lab/internal/execution"
	"github.com/victoredede21/xss-educational-lab/internal/session"
	"github.com/victoredede21/xss-educational-lab/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	catalog    *catalog.Catalog
	tracker    *execution.Tracker
	events     *eventlog.Log
	publicURL  string
	logger     logrus.FieldLogger
}

// Deps are the collaborators a Handler serves
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Sessions   *session.Manager
	Catalog    *catalog.Catalog
	Tracker    *execution.Tracker
	Events     *eventlog.Log
	// PublicURL overrides the server root advertised to hooked pages
	PublicURL string
	Logger    logrus.FieldLogger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Handler{
		dispatcher: deps.Dispatcher,
		sessions:   deps.Sessions,
		catalog:    deps.Catalog,
		tracker:    deps.Tracker,
		events:     deps.Events,
		publicURL:  deps.PublicURL,
		logger:     deps.Logger,
	}
}

// ListSessions handles GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := h.dispatcher.DeleteSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !deleted {
		writeFailure(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CountSessions handles GET /api/hooks/count
func (h *Handler) CountSessions(w http.ResponseWriter, r *http.Request) {
	counts, err := h.sessions.Counts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// ListModules handles GET /api/modules
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

// ListCategories handles GET /api/modules/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// ListModulesByCategory handles GET /api/modules/category/{category}
func (h *Handler) ListModulesByCategory(w http.ResponseWriter, r *http.Request) {
	modules, err := h.catalog.ListByCategory(r.Context(), mux.Vars(r)["category"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

// GetModule handles GET /api/modules/{id}
func (h *Handler) GetModule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	module, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, module)
}

// CreateModule handles POST /api/modules
func (h *Handler) CreateModule(w http.ResponseWriter, r *http.Request) {
	var req models.CommandModule
	if !decode(w, r, &req) {
		return
	}
	module, err := h.catalog.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, module)
}

type executeRequest struct {
	SessionID int64 `json:"sessionId"`
	ModuleID  int64 `json:"moduleId"`
}

// Execute handles POST /api/execute
func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID <= 0 || req.ModuleID <= 0 {
		writeFailure(w, http.StatusBadRequest, "sessionId and moduleId are required")
		return
	}

	exec, err := h.dispatcher.Execute(r.Context(), req.SessionID, req.ModuleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"execution": exec,
	})
}

// ListExecutions handles GET /api/executions
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.tracker.ListAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// ListSessionExecutions handles GET /api/executions/session/{id}
func (h *Handler) ListSessionExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	execs, err := h.tracker.ListBySession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// ListLogs handles GET /api/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.events.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// ListSessionLogs handles GET /api/logs/session/{id}
func (h *Handler) ListSessionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.events.ListBySession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type createLogRequest struct {
	SessionID *int64          `json:"browserId"`
	Event     string          `json:"event"`
	Level     models.LogLevel `json:"level"`
	Details   map[string]any  `json:"details"`
}

// CreateLog handles POST /api/logs
func (h *Handler) CreateLog(w http.ResponseWriter, r *http.Request) {
	var req createLogRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID != nil {
		if _, err := h.sessions.Get(r.Context(), *req.SessionID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	entry, err := h.events.Record(r.Context(), req.SessionID, req.Event, req.Level, req.Details)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// writeError maps domain errors to HTTP responses
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrSessionMismatch):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyCompleted):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		writeFailure(w, status, "Internal server error")
		return
	}
	writeFailure(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeFailure(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}
