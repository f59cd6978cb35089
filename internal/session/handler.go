package session

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/httpx"
)

// Handler exposes refresh and logout endpoints.
type Handler struct {
	tokens *TokenService
	cfg    config.TokenConfig
	logger *zap.SugaredLogger
}

func NewHandler(tokens *TokenService, cfg config.TokenConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{tokens: tokens, cfg: cfg, logger: logger}
}

// SetTokenCookies writes both tokens as HttpOnly cookies.
func SetTokenCookies(w http.ResponseWriter, cfg config.TokenConfig, pair Pair) {
	http.SetCookie(w, tokenCookie(cfg, AccessCookie, pair.AccessToken, int(cfg.AccessTTL.Seconds())))
	http.SetCookie(w, tokenCookie(cfg, RefreshCookie, pair.RefreshToken, int(cfg.RefreshTTL.Seconds())))
}

// ClearTokenCookies expires both token cookies.
func ClearTokenCookies(w http.ResponseWriter, cfg config.TokenConfig) {
	http.SetCookie(w, tokenCookie(cfg, AccessCookie, "", -1))
	http.SetCookie(w, tokenCookie(cfg, RefreshCookie, "", -1))
}

func tokenCookie(cfg config.TokenConfig, name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Refresh rotates the pair. The refresh token is read from the refreshToken
// cookie or the refreshToken body field.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := ""
	if c, err := r.Cookie(RefreshCookie); err == nil {
		presented = c.Value
	}
	if presented == "" {
		fields, err := httpx.Fields(r)
		if err != nil {
			httpx.WriteError(w, h.logger, err)
			return
		}
		presented = fields["refreshToken"]
	}
	pair, err := h.tokens.Refresh(r.Context(), presented)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	SetTokenCookies(w, h.cfg, pair)
	httpx.Respond(w, http.StatusOK, pair, "access token refreshed")
}

// Logout revokes the caller's refresh token and clears the cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, h.logger, apperror.Unauthenticated("authentication required"))
		return
	}
	if err := h.tokens.Revoke(r.Context(), accountID); err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	ClearTokenCookies(w, h.cfg)
	h.logger.Infow("logged out", "account_id", accountID)
	httpx.Respond(w, http.StatusOK, map[string]any{}, "user logged out")
}
