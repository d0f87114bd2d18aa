// Package api provides the HTTP surface of the callback relay
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/alexbotov/robokassa/internal/config"
	"github.com/alexbotov/robokassa/internal/forward"
	"github.com/alexbotov/robokassa/pkg/robokassa"
)

// Handler contains all HTTP handlers
type Handler struct {
	cfg       *config.Config
	auth      *robokassa.Auth
	forwarder *forward.Forwarder

	httpClient *http.Client
	serviceURL string
}

// New creates a new API handler
func New(cfg *config.Config, forwarder *forward.Forwarder) (*Handler, error) {
	auth := robokassa.NewAuth(
		cfg.Merchant.Login,
		cfg.Merchant.PaymentPassword,
		cfg.Merchant.ValidationPassword,
		cfg.Merchant.Test,
	)
	if err := auth.SetHashAlgo(cfg.Merchant.HashAlgo); err != nil {
		return nil, err
	}
	return &Handler{
		cfg:       cfg,
		auth:      auth,
		forwarder: forwarder,
	}, nil
}

// SetGateway overrides the gateway the strict cross-check talks to.
// Intended for tests.
func (h *Handler) SetGateway(httpClient *http.Client, serviceURL string) {
	h.httpClient = httpClient
	h.serviceURL = serviceURL
}

// newPayment builds a fresh payment per request; payments are not safe for
// concurrent use.
func (h *Handler) newPayment() *robokassa.Payment {
	var client *robokassa.Client
	if h.httpClient != nil {
		client = robokassa.NewClientWithHTTPClient(h.auth, h.httpClient)
		client.SetBaseURLs("", "", h.serviceURL)
	} else {
		client = robokassa.NewClient(h.auth)
	}
	return robokassa.NewPayment(h.auth, client)
}

// Response helpers

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// getClientIP extracts client IP from request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// === Health & Info ===

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

// ServerInfo handles GET /
func (h *Handler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "robokassa-relay",
		"version":     "1.0.0",
		"description": "Robokassa payment callback relay",
	})
}

// === Callbacks ===

// ResultCallback handles the gateway's ResultURL notification. The gateway
// retries until it reads the OK{id} acknowledgement, so anything invalid is
// answered with a plain 400.
func (h *Handler) ResultCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	payment := h.newPayment()
	ok, err := payment.ValidateResult(r.Context(), r.Form, h.cfg.Merchant.Strict)
	if err != nil {
		log.Printf("result callback from %s: gateway check failed: %v", getClientIP(r), err)
		http.Error(w, "gateway unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		log.Printf("result callback from %s: rejected invoice %q", getClientIP(r), r.Form.Get("InvId"))
		http.Error(w, "bad sign", http.StatusBadRequest)
		return
	}

	event := forward.NewEvent("result", payment.InvoiceID(), r.Form.Get("OutSum"))
	event.PaymentMethod = payment.PaymentMethod()
	event.Email = payment.Email()
	event.CustomParams = payment.CustomParams()
	if err := h.forwarder.Send(r.Context(), event); err != nil {
		// answered later by the gateway's retry
		log.Printf("result callback: forward of invoice %d failed: %v", payment.InvoiceID(), err)
		http.Error(w, "forward failed", http.StatusBadGateway)
		return
	}

	log.Printf("result callback: invoice %d confirmed", payment.InvoiceID())
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(payment.SuccessAnswer()))
}

// SuccessCallback handles the buyer's redirect to SuccessURL. The redirect
// is signed with the payment password and only tells us the buyer came
// back; the authoritative confirmation is the ResultURL notification.
func (h *Handler) SuccessCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed form data")
		return
	}

	payment := h.newPayment()
	ok, err := payment.ValidateSuccess(r.Context(), r.Form, false)
	if err != nil {
		respondError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Could not verify payment")
		return
	}
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Signature mismatch")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"invoice_id": payment.InvoiceID(),
		"out_sum":    r.Form.Get("OutSum"),
	})
}
