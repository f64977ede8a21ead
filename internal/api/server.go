package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/victoredede21/xss-educational-lab/internal/hub"
	"github.com/victoredede21/xss-educational-lab/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(observers *hub.Hub, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"observers": observers.ClientCount(),
		})
	}).Methods("GET")
	r.HandleFunc("/hook.js", h.HookScript).Methods("GET")
	r.HandleFunc("/ws", observers.ServeWS).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// Hook protocol (rate limited per client IP, called cross-origin)
	limited := RateLimitMiddleware(rateLimiter)
	api.Handle("/hook", limited(http.HandlerFunc(h.Hook))).Methods("POST", "OPTIONS")
	api.Handle("/hook/poll", limited(http.HandlerFunc(h.Poll))).Methods("POST", "OPTIONS")
	api.Handle("/hook/result", limited(http.HandlerFunc(h.SubmitResult))).Methods("POST", "OPTIONS")

	// Operator endpoints
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id:[0-9]+}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id:[0-9]+}", h.DeleteSession).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/hooks/count", h.CountSessions).Methods("GET")

	api.HandleFunc("/modules", h.ListModules).Methods("GET")
	api.HandleFunc("/modules", h.CreateModule).Methods("POST", "OPTIONS")
	api.HandleFunc("/modules/categories", h.ListCategories).Methods("GET")
	api.HandleFunc("/modules/category/{category}", h.ListModulesByCategory).Methods("GET")
	api.HandleFunc("/modules/{id:[0-9]+}", h.GetModule).Methods("GET")

	api.HandleFunc("/execute", h.Execute).Methods("POST", "OPTIONS")
	api.HandleFunc("/executions", h.ListExecutions).Methods("GET")
	api.HandleFunc("/executions/session/{id:[0-9]+}", h.ListSessionExecutions).Methods("GET")

	api.HandleFunc("/logs", h.ListLogs).Methods("GET")
	api.HandleFunc("/logs", h.CreateLog).Methods("POST", "OPTIONS")
	api.HandleFunc("/logs/session/{id:[0-9]+}", h.ListSessionLogs).Methods("GET")

	r.Use(AccessLogMiddleware(h.logger))
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
