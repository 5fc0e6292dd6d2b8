package directory

import "errors"

// Sentinel errors classifying store failures. Implementations wrap these with
// fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	// ErrNotFound indicates the requested authorizable does not exist.
	ErrNotFound = errors.New("authorizable not found")

	// ErrConflict indicates an id collision, typically an authorizable of the
	// wrong type already holding the requested id.
	ErrConflict = errors.New("authorizable id conflict")

	// ErrTypeMismatch indicates a group was found where a user was expected,
	// or vice versa.
	ErrTypeMismatch = errors.New("authorizable type mismatch")

	// ErrStore indicates an underlying store failure, including a conflicting
	// concurrent write detected at commit time.
	ErrStore = errors.New("directory store error")

	// ErrConnection indicates a service session could not be opened.
	ErrConnection = errors.New("directory store connection error")
)
