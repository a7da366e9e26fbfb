// Package http exposes the renewal engine over net/http.
package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rhaprace/gorenew/handler"
)

// Config holds HTTP handler configuration.
type Config struct {
	// Service is the engine surface (required).
	Service *handler.Service

	// MaxBodyBytes caps the link request body. Default: 64KB.
	MaxBodyBytes int64
}

// NewMux returns a ServeMux with the engine's routes registered:
//
//	POST /webhooks/gateway
//	POST /accounts/link
//	POST /sweep
func NewMux(config Config) (*http.ServeMux, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 64 * 1024
	}

	mux := http.NewServeMux()
	mux.Handle("/webhooks/gateway", config.Service.Webhook)
	mux.HandleFunc("/accounts/link", postOnly(linkHandler(config)))
	mux.HandleFunc("/sweep", postOnly(sweepHandler(config)))
	return mux, nil
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, handler.ErrorResponse{Error: "method not allowed"})
			return
		}
		next(w, r)
	}
}

func linkHandler(config Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req handler.LinkRequest
		body := http.MaxBytesReader(w, r.Body, config.MaxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, handler.ErrorResponse{Error: "invalid request body"})
			return
		}

		resp, err := config.Service.Link(r.Context(), req)
		if err != nil {
			writeJSON(w, handler.StatusFor(err), handler.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func sweepHandler(config Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := config.Service.Sweep(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, handler.ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
