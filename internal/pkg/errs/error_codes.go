/*
Package errs provides the application error type and its error code constants.

The codes identify specific business or system errors both inside the server and
in responses to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing content after the JSON document.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate exceeded the configured limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Session and User Errors
const (
	// ErrSessionInvalid indicates an unknown or expired session token.
	ErrSessionInvalid = 2001

	// ErrUserNotFound indicates that the referenced user account does not exist.
	ErrUserNotFound = 2002
)

// 4xxx: Endpoint Availability Errors
const (
	// ErrEndpointDisabled indicates a development-only endpoint called outside development.
	ErrEndpointDisabled = 4001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified server internal error.
	ErrUnknown = 5000
)
