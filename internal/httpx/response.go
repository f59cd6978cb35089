// Package httpx holds the response envelope, the single error boundary and
// request body normalisation shared by all handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
)

// Envelope is the body of every successful response.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// ErrorEnvelope is the body of every failed response. It never carries the
// underlying cause.
type ErrorEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	ErrorKind  string `json:"errorKind"`
	Field      string `json:"field,omitempty"`
	Success    bool   `json:"success"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Respond writes data wrapped in the success envelope.
func Respond(w http.ResponseWriter, status int, data any, message string) {
	WriteJSON(w, status, Envelope{StatusCode: status, Data: data, Message: message, Success: true})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(ae *apperror.AppError) int {
	switch ae.Kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindInvalidCredential, apperror.KindUnauthenticated,
		apperror.KindTokenExpired, apperror.KindTokenInvalid, apperror.KindTokenReused:
		return http.StatusUnauthorized
	case apperror.KindAssetUploadFailed:
		if ae.ClientFault {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteError is the boundary translator: it maps err to a status and the
// error envelope. Errors that are not AppErrors become 500 Internal with a
// generic message.
func WriteError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	var ae *apperror.AppError
	if !errors.As(err, &ae) {
		ae = apperror.Internal(err)
	}
	status := StatusFor(ae)
	if status >= http.StatusInternalServerError {
		logError(logger, "request failed", ae.Kind, err)
	} else if logger != nil {
		logger.Debugw("request rejected", "kind", ae.Kind, "status", status, "err", err)
	}
	WriteJSON(w, status, ErrorEnvelope{
		StatusCode: status,
		Message:    ae.Message,
		ErrorKind:  string(ae.Kind),
		Field:      ae.Field,
	})
}

// logError logs err, expanding samber/oops code and context when present.
func logError(logger *zap.SugaredLogger, msg string, kind apperror.Kind, err error) {
	if logger == nil {
		return
	}
	kv := []any{"kind", kind, "err", err.Error()}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			kv = append(kv, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			kv = append(kv, "context", ctx)
		}
	}
	logger.Errorw(msg, kv...)
}
