package session

import (
	"context"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-identity/internal/httpx"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

type ctxKey struct{}

// WithAccountID stores the authenticated account id on ctx.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, accountID)
}

// AccountIDFromContext returns the authenticated account id, if any.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// BearerFromRequest reads the access token from the accessToken cookie,
// falling back to the Authorization header.
func BearerFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return httpx.BearerToken(r)
}

// RequireAuth rejects requests that do not evaluate to Authenticated.
func (w *Workflow) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		out, err := w.Evaluate(r.Context(), BearerFromRequest(r))
		if err != nil {
			httpx.WriteError(rw, w.logger, err)
			return
		}
		if out.State != Authenticated {
			w.logger.Debugw("request rejected", "path", r.URL.Path, "reason", out.Reason)
			httpx.WriteError(rw, w.logger, out.Err())
			return
		}
		next.ServeHTTP(rw, r.WithContext(WithAccountID(r.Context(), out.AccountID)))
	})
}

// Optional lets anonymous requests through without an account id. A
// credential that is present but expired or invalid is still rejected so
// clients learn to refresh.
func (w *Workflow) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		out, err := w.EvaluateOptional(r.Context(), BearerFromRequest(r))
		if err != nil {
			httpx.WriteError(rw, w.logger, err)
			return
		}
		switch out.State {
		case Rejected:
			httpx.WriteError(rw, w.logger, out.Err())
		case Authenticated:
			next.ServeHTTP(rw, r.WithContext(WithAccountID(r.Context(), out.AccountID)))
		default:
			next.ServeHTTP(rw, r)
		}
	})
}
