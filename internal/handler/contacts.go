package handler

import (
	"errors"
	"net/http"

	"github.com/dripline/dripline/internal/repository"
	"github.com/dripline/dripline/internal/service"
)

// SourceAPI is the audit source for registrations reported over HTTP.
const SourceAPI = "api"

type optInRequest struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	FirstName        string `json:"firstName" validate:"max=100"`
	ConsentMarketing bool   `json:"consentMarketing" validate:"required"`
	Source           string `json:"source" validate:"max=100"`
	UTMSource        string `json:"utmSource" validate:"max=200"`
	UTMMedium        string `json:"utmMedium" validate:"max=200"`
	UTMCampaign      string `json:"utmCampaign" validate:"max=200"`
}

type registeredRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// OptIn enrolls a contact in the campaign. Existing contacts are left as
// they are and answered with 200 instead of 201.
func (h *Handler) OptIn(w http.ResponseWriter, r *http.Request) {
	var req optInRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorWithDetails(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed", validationDetails(err))
		return
	}

	contact, created, err := h.contactSvc.OptIn(r.Context(), service.OptInInput{
		Email:       req.Email,
		FirstName:   req.FirstName,
		Source:      req.Source,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_email", err.Error())
			return
		}
		h.log.Error().Err(err).Msg("opt-in failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Could not save contact")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"email":   contact.Email,
		"created": created,
	})
}

// MarkRegistered is called by the checkout collaborator when a lead buys.
func (h *Handler) MarkRegistered(w http.ResponseWriter, r *http.Request) {
	var req registeredRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeErrorWithDetails(w, r, http.StatusBadRequest, "validation_failed", "Request validation failed", validationDetails(err))
		return
	}

	err := h.contactSvc.MarkRegistered(r.Context(), req.Email, SourceAPI)
	switch {
	case errors.Is(err, service.ErrContactNotFound):
		writeError(w, http.StatusNotFound, "contact_not_found", "No contact with this email")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_email", err.Error())
	case err != nil:
		h.log.Error().Err(err).Msg("mark registered failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Could not update contact")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
	}
}

// ListDeliveries returns the send history of one contact.
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("email")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Email is required")
		return
	}

	entries, err := h.contactSvc.Deliveries(r.Context(), addr)
	if err != nil {
		h.log.Error().Err(err).Msg("list deliveries failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Could not load deliveries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"email":      addr,
		"deliveries": entries,
	})
}
