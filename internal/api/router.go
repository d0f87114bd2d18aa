// Package api - Router setup
package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRouter creates and configures the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	r.HandleFunc("/", h.ServerInfo).Methods("GET")
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// The gateway sends ResultURL notifications with whichever method the
	// shop configured, so both are routed.
	r.HandleFunc("/callback/result", h.ResultCallback).Methods("GET", "POST")
	r.HandleFunc("/callback/success", h.SuccessCallback).Methods("GET", "POST")

	r.NotFoundHandler = http.HandlerFunc(NotFoundHandler)

	return r
}

// NotFoundHandler handles 404 errors
func NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}
