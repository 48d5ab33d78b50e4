package protocol

import "fmt"

// ErrorKind is the error taxonomy reported on the wire.
type ErrorKind string

const (
	KindProtocol    ErrorKind = "protocol"
	KindValidation  ErrorKind = "validation"
	KindExecution   ErrorKind = "execution"
	KindBackend     ErrorKind = "backend"
	KindPersistence ErrorKind = "persistence"
	KindTimeout     ErrorKind = "timeout"
	KindInternal    ErrorKind = "internal"
)

// Error is a failure reported to the client.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Errorf builds an *Error.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// Result renders e as its wire form.
func (e *Error) Result() ErrorResult {
	return ErrorResult{Error: e.Message, Kind: e.Kind, Details: e.Details}
}

// ErrorResult is the wire form of an error. When "error" is present no
// other result field is defined.
type ErrorResult struct {
	Error   string                 `json:"error"`
	Kind    ErrorKind              `json:"kind"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func missing(field string) *Error {
	return Errorf(KindProtocol, "missing required field %q", field).WithDetail("field", field)
}
