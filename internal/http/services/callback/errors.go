package callback

import (
	"errors"
	"fmt"
	"net/http"
)

// FlowError is the tagged failure result of the callback flow. Redirectable
// marks errors that may be delivered to the caller's errorRedirectUrl as query
// parameters; the rest surface as HTTP errors. One explicit policy match in
// the orchestrator consumes this, there is no error-class hierarchy.
type FlowError struct {
	Code         string
	Message      string
	Details      map[string]any
	Status       int
	Redirectable bool
	cause        error
}

func (e *FlowError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error { return e.cause }

// WithCause returns a copy carrying the underlying error, for logs only.
func (e *FlowError) WithCause(err error) *FlowError {
	ne := *e
	ne.cause = err
	return &ne
}

// WithDetails returns a copy with machine-readable details attached. Details
// are forwarded to the error redirect as a JSON query parameter.
func (e *FlowError) WithDetails(d map[string]any) *FlowError {
	ne := *e
	ne.Details = d
	return &ne
}

// AsFlowError unwraps err to a *FlowError, or nil.
func AsFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

// Replay/session errors: raised before the outer request row is trusted, so
// never redirect-eligible.
var (
	ErrInvalidOAuthCookie = &FlowError{
		Code:    "INVALID_OAUTH_COOKIE",
		Message: "OAuth cookie is missing or does not match. You may have refreshed the page during the sign-in process; please try again.",
		Status:  http.StatusBadRequest,
	}

	ErrOuterRequestNotFound = &FlowError{
		Code:    "OUTER_OAUTH_STATE_NOT_FOUND",
		Message: "The OAuth flow state was not found. Please restart the sign-in process.",
		Status:  http.StatusBadRequest,
	}
)

// Expired flow: the row was found, so the stored error redirect is trusted.
var ErrOuterFlowTimeout = &FlowError{
	Code:         "OUTER_OAUTH_TIMEOUT",
	Message:      "The OAuth flow took too long to complete. Please sign in again.",
	Status:       http.StatusBadRequest,
	Redirectable: true,
}

// Provider errors.
var (
	ErrProviderAccessDenied = &FlowError{
		Code:         "OAUTH_PROVIDER_ACCESS_DENIED",
		Message:      "The OAuth provider denied access. You may have cancelled the sign-in.",
		Status:       http.StatusBadRequest,
		Redirectable: true,
	}

	ErrProviderExchangeFailed = &FlowError{
		Code:    "OAUTH_PROVIDER_EXCHANGE_FAILED",
		Message: "Exchanging the authorization code with the OAuth provider failed. Please try again.",
		Status:  http.StatusBadRequest,
	}
)

// Business-rule conflicts: redirect-eligible, never retried automatically.
var (
	ErrConnectionAlreadyConnectedToAnotherUser = &FlowError{
		Code:         "OAUTH_CONNECTION_ALREADY_CONNECTED_TO_ANOTHER_USER",
		Message:      "This external account is already connected to a different user.",
		Status:       http.StatusConflict,
		Redirectable: true,
	}

	ErrUserAlreadyConnectedToAnotherOAuthConnection = &FlowError{
		Code:         "USER_ALREADY_CONNECTED_TO_ANOTHER_OAUTH_CONNECTION",
		Message:      "This user already has a different account connected for this OAuth provider.",
		Status:       http.StatusConflict,
		Redirectable: true,
	}

	ErrSignUpNotEnabled = &FlowError{
		Code:         "SIGN_UP_NOT_ENABLED",
		Message:      "New account registration is not enabled for this project.",
		Status:       http.StatusForbidden,
		Redirectable: true,
	}

	ErrContactChannelAlreadyUsedForAuth = &FlowError{
		Code:         "CONTACT_CHANNEL_ALREADY_USED_FOR_AUTH_BY_SOMEONE_ELSE",
		Message:      "This email address is already used for authentication by another account.",
		Status:       http.StatusConflict,
		Redirectable: true,
	}
)

// Finalization errors translated from the embedded authorization server.
var (
	ErrRedirectURIMisconfigured = &FlowError{
		Code:    "REDIRECT_URL_NOT_WHITELISTED",
		Message: "The redirect URL is not configured for this project. Check the trusted domains in the project's dashboard settings.",
		Status:  http.StatusBadRequest,
	}

	ErrInvalidAuthorizationScope = &FlowError{
		Code:    "INVALID_SCOPE",
		Message: "The authorization request contained an invalid scope.",
		Status:  http.StatusBadRequest,
	}
)

// fatal wraps data-integrity failures: never redirected, always 500.
func fatal(msg string, cause error) *FlowError {
	return &FlowError{
		Code:    "INTERNAL_SERVER_ERROR",
		Message: msg,
		Status:  http.StatusInternalServerError,
		cause:   cause,
	}
}
