package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. The HTTP boundary maps kinds to status codes.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindConflict          Kind = "Conflict"
	KindNotFound          Kind = "NotFound"
	KindInvalidCredential Kind = "InvalidCredential"
	KindUnauthenticated   Kind = "Unauthenticated"
	KindTokenExpired      Kind = "TokenExpired"
	KindTokenInvalid      Kind = "TokenInvalid"
	KindTokenReused       Kind = "TokenReused"
	KindAssetUploadFailed Kind = "AssetUploadFailed"
	KindPersistence       Kind = "PersistenceError"
	KindInternal          Kind = "Internal"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenReused       = errors.New("token reused")
	ErrAssetUploadFailed = errors.New("asset upload failed")
	ErrPersistence       = errors.New("persistence error")
	ErrInternal          = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:        ErrValidation,
	KindConflict:          ErrConflict,
	KindNotFound:          ErrNotFound,
	KindInvalidCredential: ErrInvalidCredential,
	KindUnauthenticated:   ErrUnauthenticated,
	KindTokenExpired:      ErrTokenExpired,
	KindTokenInvalid:      ErrTokenInvalid,
	KindTokenReused:       ErrTokenReused,
	KindAssetUploadFailed: ErrAssetUploadFailed,
	KindPersistence:       ErrPersistence,
	KindInternal:          ErrInternal,
}

type AppError struct {
	Kind    Kind
	Message string // safe to show to clients
	Field   string // optional: input field causing the error
	// ClientFault marks failures caused by caller input rather than a
	// downstream outage. Only meaningful for AssetUploadFailed.
	ClientFault bool
	Err         error // underlying cause, never sent to clients
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind, so callers can
// write errors.Is(err, apperror.ErrTokenReused).
func (e *AppError) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first AppError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message, Field: field}
}

func Conflict(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

func NotFound(resource, key string) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", resource, key)}
}

func InvalidCredential() *AppError {
	return &AppError{Kind: KindInvalidCredential, Message: "invalid credentials"}
}

func Unauthenticated(message string) *AppError {
	return &AppError{Kind: KindUnauthenticated, Message: message}
}

func TokenExpired(cause error) *AppError {
	return &AppError{Kind: KindTokenExpired, Message: "token expired", Err: cause}
}

func TokenInvalid(cause error) *AppError {
	return &AppError{Kind: KindTokenInvalid, Message: "token invalid", Err: cause}
}

func TokenReused() *AppError {
	return &AppError{Kind: KindTokenReused, Message: "refresh token has already been used"}
}

// AssetUploadFailed builds an upload failure. clientFault is true when the
// supplied file itself was rejected.
func AssetUploadFailed(message string, clientFault bool, cause error) *AppError {
	return &AppError{Kind: KindAssetUploadFailed, Message: message, ClientFault: clientFault, Err: cause}
}

func Persistence(op string, cause error) *AppError {
	return &AppError{Kind: KindPersistence, Message: op + " failed", Err: cause}
}

func Internal(cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal server error", Err: cause}
}
