package decoder

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a payload could not become a sample.
type ErrorKind int

const (
	Malformed ErrorKind = iota + 1
	MissingIdentity
	UnknownTopic
)

var (
	ErrMalformed       = errors.New("malformed payload")
	ErrMissingIdentity = errors.New("missing appliance identity")
	ErrUnknownTopic    = errors.New("unknown topic")
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case MissingIdentity:
		return "missing_identity"
	case UnknownTopic:
		return "unknown_topic"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case Malformed:
		return ErrMalformed
	case MissingIdentity:
		return ErrMissingIdentity
	case UnknownTopic:
		return ErrUnknownTopic
	default:
		return nil
	}
}

// DecodeError reports a payload that was dropped before reaching the store.
type DecodeError struct {
	Kind   ErrorKind
	Topic  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s", e.Kind)
	if e.Topic != "" {
		msg += fmt.Sprintf(" on %q", e.Topic)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrMalformed) works.
func (e *DecodeError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the decode error kind of err, or 0 when err is not a DecodeError.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

func malformed(topic, reason string, err error) *DecodeError {
	return &DecodeError{Kind: Malformed, Topic: topic, Reason: reason, Err: err}
}
