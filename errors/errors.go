package errors

import "fmt"

// ErrorType provides a coarse category for GSBErrors.
type ErrorType int

const (
	InternalServer ErrorType = iota
	Malformed
	NotFound

	// InvalidURL is raised by the URL normalizer for an empty host or an
	// unsupported scheme. Lookup swallows it and reports no match.
	InvalidURL
	// TransportError covers non-2xx HTTP responses and connection failures
	// talking to the Safe Browsing service.
	TransportError
	// ProtocolError covers malformed JSON or a response missing required
	// fields.
	ProtocolError
	// IntegrityError is raised when a list update's checksum does not match
	// the locally computed checksum of the resulting prefix table.
	IntegrityError
	// StorageError is propagated verbatim from a Storage implementation.
	StorageError
)

func (t ErrorType) String() string {
	switch t {
	case InternalServer:
		return "InternalServer"
	case Malformed:
		return "Malformed"
	case NotFound:
		return "NotFound"
	case InvalidURL:
		return "InvalidURL"
	case TransportError:
		return "TransportError"
	case ProtocolError:
		return "ProtocolError"
	case IntegrityError:
		return "IntegrityError"
	case StorageError:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// GSBError represents a typed error raised anywhere in this module.
type GSBError struct {
	Type   ErrorType
	Detail string
}

func (e *GSBError) Error() string {
	return e.Detail
}

// New is a convenience function for creating a new GSBError.
func New(errType ErrorType, msg string, args ...interface{}) error {
	return &GSBError{
		Type:   errType,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is reports whether err is a GSBError of the given type.
func Is(err error, errType ErrorType) bool {
	gsbErr, ok := err.(*GSBError)
	if !ok {
		return false
	}
	return gsbErr.Type == errType
}
