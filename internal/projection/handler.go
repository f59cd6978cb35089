package projection

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

// ChannelProfile is mounted behind optional auth; anonymous viewers get
// isSubscribed=false.
func (h *Handler) ChannelProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := session.AccountIDFromContext(r.Context())
	view, err := h.svc.GetChannelProfile(r.Context(), chi.URLParam(r, "username"), viewerID)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, view, "user channel fetched successfully")
}

func (h *Handler) WatchHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, h.logger, apperror.Unauthenticated("authentication required"))
		return
	}
	history, err := h.svc.GetWatchHistory(r.Context(), accountID)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, history, "watch history fetched successfully")
}

func (h *Handler) RecordWatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, h.logger, apperror.Unauthenticated("authentication required"))
		return
	}
	fields, err := httpx.Fields(r)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	pos, err := h.svc.RecordWatch(r.Context(), accountID, fields["videoId"])
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusCreated, map[string]any{"position": pos, "videoId": fields["videoId"]}, "watch history updated")
}
