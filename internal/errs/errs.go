package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindMalformedPayload
	KindPassphraseNotFound
	KindPassphraseGeneration
	KindFileSystem
	KindTransportTimeout
	KindProtocol
	KindIntegrity
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindNetwork:              "network",
	KindMalformedPayload:     "malformed_payload",
	KindPassphraseNotFound:   "passphrase_not_found",
	KindPassphraseGeneration: "passphrase_generation",
	KindFileSystem:           "file_system",
	KindTransportTimeout:     "transport_timeout",
	KindProtocol:             "protocol",
	KindIntegrity:            "integrity",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrPassphraseNotFound   = errors.New("passphrase not found")
	ErrPassphraseGeneration = errors.New("could not generate a free passphrase")
	ErrMalformedPayload     = errors.New("malformed payload")
	ErrTransportTimeout     = errors.New("transport timed out")
	ErrUnexpectedMessage    = errors.New("unexpected message")
	ErrIntegrity            = errors.New("file hash does not match")
)

// Error carries the failing operation and its Kind alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and operation. A nil err stays nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain, falling
// back to the well-known sentinels.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, ErrPassphraseNotFound):
		return KindPassphraseNotFound
	case errors.Is(err, ErrPassphraseGeneration):
		return KindPassphraseGeneration
	case errors.Is(err, ErrMalformedPayload):
		return KindMalformedPayload
	case errors.Is(err, ErrTransportTimeout):
		return KindTransportTimeout
	case errors.Is(err, ErrUnexpectedMessage):
		return KindProtocol
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	}
	return KindUnknown
}
