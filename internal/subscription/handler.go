package subscription

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, h.logger, apperror.Unauthenticated("authentication required"))
		return
	}
	sub, created, err := h.svc.Subscribe(r.Context(), viewerID, chi.URLParam(r, "username"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	if !created {
		httpx.Respond(w, http.StatusOK, sub, "already subscribed")
		return
	}
	httpx.Respond(w, http.StatusCreated, sub, "subscribed successfully")
}

func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, h.logger, apperror.Unauthenticated("authentication required"))
		return
	}
	removed, err := h.svc.Unsubscribe(r.Context(), viewerID, chi.URLParam(r, "username"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]bool{"removed": removed}, "unsubscribed successfully")
}
