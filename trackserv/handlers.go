// Copyright 2026 Maksim Petrashin
// SPDX-License-Identifier: Apache-2.0

package trackserv

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mpetrashin/tracklite/internal/auth"
)

// RecordService is the store surface the HTTP layer needs. *Service
// implements it; tests substitute stubs.
type RecordService interface {
	FetchDelta(ctx context.Context, ownerID string, since int64) ([]RecordRow, error)
	UpsertBatch(ctx context.Context, ownerID string, rows []RecordRow) ([]AcceptedRow, error)
	DeleteBatch(ctx context.Context, ownerID string, ids []string) (int64, error)
}

// Handlers provides the HTTP handlers for the record sync API.
type Handlers struct {
	service       RecordService
	authenticator OwnerAuthenticator
	logger        *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(service RecordService, authenticator OwnerAuthenticator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// requestOwner resolves the owner scope for a request, preferring an id
// already injected by the auth middleware over re-validating the token.
func (h *Handlers) requestOwner(r *http.Request) (string, error) {
	if ownerID, ok := auth.GetOwnerID(r.Context()); ok {
		return ownerID, nil
	}
	return h.authenticator.OwnerID(r)
}

// Mux returns a mux with the three sync endpoints mounted.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/records", h.HandleDelta)
	mux.HandleFunc("/v1/records/upsert", h.HandleUpsert)
	mux.HandleFunc("/v1/records/delete", h.HandleDelete)
	return mux
}

// HandleDelta serves GET /v1/records?since=N with the owner's rows updated
// at or after since.
func (h *Handlers) HandleDelta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Message: "Only GET method is allowed"})
		return
	}

	ownerID, err := h.requestOwner(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication_failed", Message: err.Error()})
		return
	}

	since := int64(0)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "since must be a non-negative integer"})
			return
		}
		since = parsed
	}

	rows, err := h.service.FetchDelta(r.Context(), ownerID, since)
	if err != nil {
		status, body := classifyError("delta_failed", err)
		h.logger.Error("Failed to fetch delta", "error", err, "owner_id", ownerID)
		h.writeError(w, status, body)
		return
	}

	h.writeJSON(w, &DeltaResponse{Records: rows})
}

// HandleUpsert serves POST /v1/records/upsert.
func (h *Handlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Message: "Only POST method is allowed"})
		return
	}

	ownerID, err := h.requestOwner(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication_failed", Message: err.Error()})
		return
	}

	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Failed to parse upsert request"})
		return
	}

	accepted, err := h.service.UpsertBatch(r.Context(), ownerID, req.Rows)
	if err != nil {
		status, body := classifyError("upsert_failed", err)
		h.logger.Error("Failed to upsert rows", "error", err, "owner_id", ownerID, "rows", len(req.Rows))
		h.writeError(w, status, body)
		return
	}

	h.writeJSON(w, &UpsertResponse{Rows: accepted})
}

// HandleDelete serves POST /v1/records/delete.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Message: "Only POST method is allowed"})
		return
	}

	ownerID, err := h.requestOwner(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication_failed", Message: err.Error()})
		return
	}

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Failed to parse delete request"})
		return
	}

	deleted, err := h.service.DeleteBatch(r.Context(), ownerID, req.IDs)
	if err != nil {
		status, body := classifyError("delete_failed", err)
		h.logger.Error("Failed to delete rows", "error", err, "owner_id", ownerID, "ids", len(req.IDs))
		h.writeError(w, status, body)
		return
	}

	h.writeJSON(w, &DeleteResponse{Deleted: deleted})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, statusCode int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}
