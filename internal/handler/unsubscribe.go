package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dripline/dripline/internal/auth"
	"github.com/dripline/dripline/internal/email"
	"github.com/dripline/dripline/internal/service"
)

// maxUnsubscribeBody is far above the one-click body but small enough to
// reject junk without buffering it.
const maxUnsubscribeBody = 1024

// UnsubscribeOneClick handles the RFC 8058 POST sent by mail clients.
// Responses are plain text.
func (h *Handler) UnsubscribeOneClick(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeText(w, http.StatusBadRequest, "Missing token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUnsubscribeBody))
	if err != nil || strings.TrimSpace(string(body)) != service.ListUnsubscribeOneClick {
		writeText(w, http.StatusBadRequest, "Invalid unsubscribe request")
		return
	}

	if _, err := h.unsubscribeSvc.Unsubscribe(r.Context(), token, service.UnsubscribeOneClick); err != nil {
		status, message := unsubscribeErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("one-click unsubscribe failed")
		}
		writeText(w, status, message)
		return
	}

	writeText(w, http.StatusOK, "Success")
}

// UnsubscribePage handles a human clicking the link in an email footer.
// Responses are HTML pages.
func (h *Handler) UnsubscribePage(w http.ResponseWriter, r *http.Request) {
	appName := h.cfg.Email.AppName

	token := r.URL.Query().Get("token")
	if token == "" {
		writeHTML(w, http.StatusBadRequest, email.UnsubscribeErrorPageHTML("This unsubscribe link is incomplete.", appName))
		return
	}

	addr, err := h.unsubscribeSvc.Unsubscribe(r.Context(), token, service.UnsubscribeManual)
	if err != nil {
		status, _ := unsubscribeErrorStatus(err)
		reason := "This unsubscribe link is not valid."
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			reason = "This unsubscribe link has expired. Use the link in a more recent email."
		case status == http.StatusInternalServerError:
			h.log.Error().Err(err).Msg("manual unsubscribe failed")
			reason = "Something went wrong. Please try again later."
		}
		writeHTML(w, status, email.UnsubscribeErrorPageHTML(reason, appName))
		return
	}

	writeHTML(w, http.StatusOK, email.UnsubscribedPageHTML(addr, appName))
}

func unsubscribeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "Token expired"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, auth.ErrPurposeMismatch):
		return http.StatusBadRequest, "Invalid token purpose"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}
