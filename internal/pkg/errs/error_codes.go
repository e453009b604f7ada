/*
Package errs provides the application error type and its numeric error codes.

Codes identify failures both inside the server and in responses sent to clients.
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

	// ErrExtraContentInBody indicates extra content after the JSON document.
	ErrExtraContentInBody = 1004

	// ErrFormParseFailed indicates failure to parse multipart or URL-encoded form data.
	ErrFormParseFailed = 1005

	// ErrRequestEntityTooLarge indicates that the request body exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the client exceeded its request rate.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Message Errors
const (
	// ErrInvalidRoomID indicates a room identifier that cannot be used as a store path segment.
	ErrInvalidRoomID = 2101

	// ErrMessageContentTooLong indicates that message text exceeded the maximum length.
	ErrMessageContentTooLong = 2201

	// ErrInvalidImage indicates an image payload with a disallowed type or undecodable content.
	ErrInvalidImage = 2202

	// ErrFileSizeTooLarge indicates an image payload above the configured size limit.
	ErrFileSizeTooLarge = 2203

	// ErrLoadMessagesFailed indicates that the message store reported a read failure.
	ErrLoadMessagesFailed = 2301

	// ErrSendMessageFailed indicates that appending a message to the store failed.
	ErrSendMessageFailed = 2302

	// ErrUploadImageFailed indicates that an image message could not be created.
	ErrUploadImageFailed = 2303
)

// 3xxx: Identity Errors
const (
	// ErrUnauthorized indicates a request that needs a sender identity but has none.
	ErrUnauthorized = 3001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified internal error.
	ErrUnknown = 5000
)
