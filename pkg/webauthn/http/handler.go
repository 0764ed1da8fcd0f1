// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package http provides HTTP handlers for the passkey ceremony and
// credential management endpoints. The handlers authenticate nothing
// themselves: the hosting application is responsible for ensuring the
// identity fields on registration and management requests belong to the
// caller.
package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-passkey/pkg/logging"
	"github.com/jeremyhahn/go-passkey/pkg/webauthn"
)

// Handler serves the passkey REST API.
type Handler struct {
	service *webauthn.Service
	logger  *logging.Logger
}

// NewHandler creates a handler for the given service.
func NewHandler(service *webauthn.Service) *Handler {
	return &Handler{
		service: service,
		logger:  logging.DefaultLogger(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *logging.Logger) *Handler {
	h.logger = logger
	return h
}

// RegisterOptions handles POST /register/options.
func (h *Handler) RegisterOptions(w http.ResponseWriter, r *http.Request) {
	var req RegisterOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Identity == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "identity is required")
		return
	}

	options, requestID, err := h.service.BeginRegistration(r.Context(), req.Identity)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set(HeaderRequestID, requestID)
	h.writeJSON(w, http.StatusOK, RegisterOptionsResponse{
		RequestID: requestID,
		PublicKey: options,
	})
}

// RegisterVerify handles POST /register/verify.
func (h *Handler) RegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req RegisterVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(HeaderRequestID)
	}
	if req.RequestID == "" || req.Identity == "" || len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "requestId, identity and credential are required")
		return
	}

	record, err := h.service.FinishRegistration(r.Context(), req.RequestID, req.Identity, req.Credential, req.Label)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, summarize(record))
}

// LoginOptions handles POST /login/options. An empty or absent body starts
// the discoverable credential flow.
func (h *Handler) LoginOptions(w http.ResponseWriter, r *http.Request) {
	var req LoginOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = LoginOptionsRequest{}
	}

	options, requestID, err := h.service.BeginAuthentication(r.Context(), req.Identity)
	if err != nil {
		// An unknown identity and an identity with no passkeys produce the
		// same response, so login options cannot be used to enumerate
		// accounts.
		if errors.Is(err, webauthn.ErrIdentityNotFound) || errors.Is(err, webauthn.ErrNoCredentials) {
			h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "unable to start authentication")
			return
		}
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set(HeaderRequestID, requestID)
	h.writeJSON(w, http.StatusOK, LoginOptionsResponse{
		RequestID: requestID,
		PublicKey: options,
	})
}

// LoginVerify handles POST /login/verify.
func (h *Handler) LoginVerify(w http.ResponseWriter, r *http.Request) {
	var req LoginVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get(HeaderRequestID)
	}
	if req.RequestID == "" || len(req.Credential) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "requestId and credential are required")
		return
	}

	result, err := h.service.FinishAuthentication(r.Context(), req.RequestID, req.Credential)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, LoginVerifyResponse{
		Identity: result.Account.Identity,
		Token:    result.Token,
	})
}

// ListCredentials handles GET /credentials?identity=...
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "identity is required")
		return
	}

	records, err := h.service.Credentials().FindAllForIdentity(r.Context(), identity)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	summaries := make([]CredentialSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, summarize(record))
	}
	h.writeJSON(w, http.StatusOK, CredentialListResponse{Credentials: summaries})
}

// DeleteCredential handles DELETE /credentials/{id}?identity=...
// The {id} path segment is the base64url credential ID.
func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "identity is required")
		return
	}

	encoded := chi.URLParam(r, "id")
	id, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil || len(id) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential id")
		return
	}

	err = h.service.Credentials().Delete(r.Context(), &webauthn.CredentialRecord{
		ID:            id,
		OwnerIdentity: identity,
	})
	if err != nil {
		// Management endpoint: a missing credential is a 404, not a
		// ceremony failure. The repository reports someone else's
		// credential the same way, so existence is not leaked.
		if errors.Is(err, webauthn.ErrCredentialNotFound) {
			h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "not found")
			return
		}
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status: "ok",
		RPID:   h.service.Config().RPID,
	})
}

// handleServiceError maps service errors to HTTP responses. Every ceremony
// validation failure gets the same generic body; the specific reason is
// logged server-side only.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, webauthn.ErrIdentityNotFound),
		errors.Is(err, webauthn.ErrNoCredentials):
		h.writeError(w, http.StatusNotFound, ErrorCodeNotFound, "not found")

	case errors.Is(err, webauthn.ErrCredentialBound):
		h.writeError(w, http.StatusConflict, ErrorCodeInvalidRequest, "credential already registered")

	case webauthn.IsValidationError(err):
		h.logger.Info("ceremony rejected", "reason", webauthn.ValidationErrorKind(err))
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")

	default:
		h.logger.Error("internal error", "error", err.Error())
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternal, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", "error", err.Error())
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	h.writeJSON(w, status, resp)
}
