package upload

// Error codes for upload operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota

	// ErrCodeRange rejects an append whose cursor or fingerprint does not
	// match the authoritative state. The error carries the current
	// fingerprint and offset so the client can resume.
	ErrCodeRange

	// ErrCodeNotFound means the upload (or its state record) does not exist.
	ErrCodeNotFound

	// ErrCodeTooLarge means a monolithic body exceeds the store's object
	// size limit; the caller should fall back to the chunked path.
	ErrCodeTooLarge

	// ErrCodeTrailingBody rejects a finish request that carries body bytes
	// while parts have already been uploaded.
	ErrCodeTrailingBody

	// ErrCodeTooManyParts rejects an append that would exceed the store's
	// part-count limit.
	ErrCodeTooManyParts

	ErrCodeInvalidArgument
	ErrCodeServer
	ErrCodeInternal
)

// Error represents an upload service error with an error code.
// Range errors additionally carry the authoritative resume cursor.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error

	// Fingerprint and Offset form the resume payload of a Range error:
	// the current state fingerprint and byteRange-1.
	Fingerprint string
	Offset      int64
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retriable reports whether the client may retry the request unchanged.
func (e *Error) Retriable() bool {
	return e.Code == ErrCodeServer
}

func serverError(op string, err error) *Error {
	return &Error{
		Code:    ErrCodeServer,
		Message: "object store " + op + " failed",
		Err:     err,
	}
}

func rangeError(fingerprint string, byteRange int64) *Error {
	return &Error{
		Code:        ErrCodeRange,
		Message:     "upload cursor out of sync",
		Fingerprint: fingerprint,
		Offset:      byteRange - 1,
	}
}
