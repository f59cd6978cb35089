package account

import (
	"errors"
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-identity/internal/media"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
)

// Handler exposes HTTP endpoints for registration, login and profile maintenance.
type Handler struct {
	svc      *Service
	fs       afero.Fs
	mediaCfg config.MediaConfig
	tokenCfg config.TokenConfig
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, fs afero.Fs, mediaCfg config.MediaConfig, tokenCfg config.TokenConfig, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, fs: fs, mediaCfg: mediaCfg, tokenCfg: tokenCfg, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	form, err := httpx.ParseMultipart(r, h.fs, h.mediaCfg.TempDir, h.mediaCfg.MaxUploadBytes)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	defer form.Cleanup()

	in := RegisterInput{
		FullName:   form.Value("fullName"),
		Email:      form.Value("email"),
		Username:   form.Value("username"),
		Password:   form.Value("password"),
		Avatar:     attachment(form, "avatar"),
		CoverImage: attachment(form, "coverImage", "coverimage"),
	}

	profile, err := h.svc.Register(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusCreated, profile, "user registered successfully")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	fields, err := httpx.Fields(r)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	res, err := h.svc.Login(r.Context(), LoginInput{
		Username: fields["username"],
		Email:    fields["email"],
		Password: fields["password"],
	})
	if err != nil {
		// unknown user and wrong password look the same to the caller
		if errors.Is(err, apperror.ErrNotFound) {
			err = apperror.InvalidCredential()
		}
		h.logger.Debugw("login failed", "kind", apperror.KindOf(err))
		httpx.WriteError(w, h.logger, err)
		return
	}
	session.SetTokenCookies(w, h.tokenCfg, res.Pair)
	httpx.Respond(w, http.StatusOK, res, "user logged in successfully")
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.caller(w, r)
	if !ok {
		return
	}
	fields, err := httpx.Fields(r)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), accountID, fields["oldPassword"], fields["newPassword"]); err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{}, "password changed successfully")
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.caller(w, r)
	if !ok {
		return
	}
	profile, err := h.svc.CurrentUser(r.Context(), accountID)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, profile, "current user fetched successfully")
}

func (h *Handler) EditDetails(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.caller(w, r)
	if !ok {
		return
	}
	fields, err := httpx.Fields(r)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	profile, err := h.svc.EditDetails(r.Context(), accountID, fields["fullName"], fields["email"])
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, profile, "account details updated successfully")
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateAsset(w, r, entity.FieldAvatar, "avatar updated successfully")
}

func (h *Handler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateAsset(w, r, entity.FieldCoverImage, "cover image updated successfully")
}

func (h *Handler) updateAsset(w http.ResponseWriter, r *http.Request, field entity.AssetField, msg string) {
	accountID, ok := h.caller(w, r)
	if !ok {
		return
	}
	form, err := httpx.ParseMultipart(r, h.fs, h.mediaCfg.TempDir, h.mediaCfg.MaxUploadBytes)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	defer form.Cleanup()

	names := []string{string(field)}
	if field == entity.FieldCoverImage {
		names = append(names, "coverimage")
	}
	profile, err := h.svc.UpdateAsset(r.Context(), accountID, field, attachment(form, names...))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.Respond(w, http.StatusOK, profile, msg)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := session.AccountIDFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, h.logger, apperror.Unauthenticated("authentication required"))
	}
	return accountID, ok
}

// attachment returns the first file uploaded under any of names.
func attachment(form *httpx.Form, names ...string) *media.LocalFile {
	for _, name := range names {
		if f, ok := form.Attachments.First(name); ok {
			return &f
		}
	}
	return nil
}
