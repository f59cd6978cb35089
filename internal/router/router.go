package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/account"
	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-identity/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-identity/internal/projection"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/internal/subscription"
)

const basePath = "/pitchfork-api-identity"

// Deps are the handlers and middleware the router mounts.
type Deps struct {
	Accounts      *account.Handler
	Sessions      *session.Handler
	Projections   *projection.Handler
	Subscriptions *subscription.Handler
	Workflow      *session.Workflow
	Metrics       http.Handler
	Logger        *zap.SugaredLogger
}

// RegisterRoutes mounts every HTTP endpoint of the service.
func RegisterRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, d.Logger, &apperror.AppError{Kind: apperror.KindNotFound, Message: "route not found"})
	})

	r.Get(basePath+"/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route(basePath+"/users", func(r chi.Router) {
		r.Post("/register", d.Accounts.Register)
		r.Post("/login", d.Accounts.Login)
		r.Post("/refresh-token", d.Sessions.Refresh)

		r.With(d.Workflow.Optional).Get("/channel/{username}", d.Projections.ChannelProfile)

		r.Group(func(r chi.Router) {
			r.Use(d.Workflow.RequireAuth)
			r.Post("/logout", d.Sessions.Logout)
			r.Post("/change-password", d.Accounts.ChangePassword)
			r.Get("/current-user", d.Accounts.CurrentUser)
			r.Patch("/edit-details", d.Accounts.EditDetails)
			r.Patch("/update-avatar", d.Accounts.UpdateAvatar)
			r.Patch("/update-cover-image", d.Accounts.UpdateCoverImage)
			r.Patch("/update-coverimage", d.Accounts.UpdateCoverImage)
			r.Post("/channel/{username}/subscription", d.Subscriptions.Subscribe)
			r.Delete("/channel/{username}/subscription", d.Subscriptions.Unsubscribe)
			r.Get("/watch-history", d.Projections.WatchHistory)
			r.Post("/watch-history", d.Projections.RecordWatch)
			r.Get("/watchHistory", d.Projections.WatchHistory)
			r.Post("/watchHistory", d.Projections.RecordWatch)
		})
	})
	return r
}
