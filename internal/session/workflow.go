package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/apperror"
)

// State of a request after its bearer credential has been evaluated.
type State int

const (
	Anonymous State = iota
	Authenticated
	Rejected
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Reason explains a Rejected state.
type Reason string

const (
	ReasonMissingCredential Reason = "missing-credential"
	ReasonExpired           Reason = "expired"
	ReasonInvalid           Reason = "invalid"
)

// Outcome is the result of evaluating one request.
type Outcome struct {
	State     State
	AccountID string
	Reason    Reason
}

// Err converts a Rejected outcome into the error reported to the client.
func (o Outcome) Err() error {
	if o.State != Rejected {
		return nil
	}
	switch o.Reason {
	case ReasonExpired:
		return apperror.TokenExpired(nil)
	case ReasonInvalid:
		return apperror.TokenInvalid(nil)
	}
	return apperror.Unauthenticated("authentication required")
}

// AccountChecker confirms that an authenticated subject still exists.
type AccountChecker interface {
	Exists(ctx context.Context, accountID string) (bool, error)
}

// Workflow evaluates each request from its bearer token alone. Nothing is
// kept between requests.
type Workflow struct {
	tokens   *TokenService
	accounts AccountChecker
	logger   *zap.SugaredLogger
}

func NewWorkflow(tokens *TokenService, accounts AccountChecker, logger *zap.SugaredLogger) *Workflow {
	return &Workflow{tokens: tokens, accounts: accounts, logger: logger}
}

// Evaluate runs the transition for a request that requires a credential.
// The returned error is non-nil only when the account lookup itself failed.
func (w *Workflow) Evaluate(ctx context.Context, bearer string) (Outcome, error) {
	if bearer == "" {
		return Outcome{State: Rejected, Reason: ReasonMissingCredential}, nil
	}
	accountID, err := w.tokens.VerifyAccess(bearer)
	if err != nil {
		if errors.Is(err, apperror.ErrTokenExpired) {
			return Outcome{State: Rejected, Reason: ReasonExpired}, nil
		}
		return Outcome{State: Rejected, Reason: ReasonInvalid}, nil
	}
	exists, err := w.accounts.Exists(ctx, accountID)
	if err != nil {
		return Outcome{}, apperror.Persistence("load account", err)
	}
	if !exists {
		// a deleted account looks exactly like a bad token
		return Outcome{State: Rejected, Reason: ReasonInvalid}, nil
	}
	return Outcome{State: Authenticated, AccountID: accountID}, nil
}

// EvaluateOptional is Evaluate for requests where a credential is optional:
// an absent bearer yields Anonymous instead of Rejected.
func (w *Workflow) EvaluateOptional(ctx context.Context, bearer string) (Outcome, error) {
	if bearer == "" {
		return Outcome{State: Anonymous}, nil
	}
	return w.Evaluate(ctx, bearer)
}
