package elog

// ErrorKind classifies every fatal error the core can raise, per the error
// kinds enumerated in the error handling design: IoError, FormatError,
// PartitionError, TopologyError, InstabilityError and ProtocolError.
type ErrorKind string

const (
	IoError          ErrorKind = "IoError"
	FormatError      ErrorKind = "FormatError"
	PartitionError   ErrorKind = "PartitionError"
	TopologyError    ErrorKind = "TopologyError"
	InstabilityError ErrorKind = "InstabilityError"
	ProtocolError    ErrorKind = "ProtocolError"
)

// Kinded is satisfied by any sentinel error that knows its own ErrorKind,
// so Fatal never has to guess a kind from an opaque error value.
type Kinded interface {
	error
	Kind() ErrorKind
}

// KindedError is the concrete Kinded implementation each producing package
// wraps its sentinel errors in.
type KindedError struct {
	kind ErrorKind
	msg  string
}

func New(kind ErrorKind, msg string) *KindedError {
	return &KindedError{kind: kind, msg: msg}
}

// Wrap builds a KindedError whose message includes cause's message, when
// cause is non-nil. Every producing package uses this instead of
// pkg/errors.Wrap so the resulting error still satisfies Kinded.
func Wrap(kind ErrorKind, msg string, cause error) *KindedError {
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return &KindedError{kind: kind, msg: msg}
}

func (e *KindedError) Error() string {
	return e.msg
}

func (e *KindedError) Kind() ErrorKind {
	return e.kind
}
