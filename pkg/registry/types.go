package registry

// Error codes for manifest and layer operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota

	// ErrCodeManifestInvalid means the manifest bytes failed to parse or
	// validate.
	ErrCodeManifestInvalid

	// ErrCodeManifestUnknown means the referenced manifest does not exist.
	ErrCodeManifestUnknown

	// ErrCodeBlobUnknown means a referenced layer or config blob is absent.
	ErrCodeBlobUnknown

	// ErrCodeClient rejects a request that is malformed beyond repair, such
	// as mounting a blob onto itself.
	ErrCodeClient

	ErrCodeNotFound
	ErrCodeServer
	ErrCodeInternal
)

// Error represents a registry service error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
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
// Server errors cover store failures and lost GC races, both transient.
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
