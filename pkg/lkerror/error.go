// Package lkerror holds the error taxonomy surfaced by the SDK. Every failure
// returned by the crypto services, the transport and the clients is an *Error
// carrying a Kind, so callers can tell retryable faults from fatal ones.
package lkerror

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// Communication is a network or server side failure. The caller may retry.
	Communication Kind = iota + 1
	// Marshalling is a local serialization failure.
	Marshalling
	// InvalidRequest means the API rejected the content of the request.
	InvalidRequest
	// InvalidResponse means the response could not be parsed or understood.
	InvalidResponse
	// InvalidCredentials means the API rejected the credentials used to sign the request.
	InvalidCredentials
	// Cryptography covers encryption, decryption and signing failures.
	Cryptography
	// InvalidSignature means a signature or a signed content hash did not verify.
	InvalidSignature
	// NoKeyFound means no known key matches the presented key ID.
	NoKeyFound
	// AuthorizationRequestTimedOut means an authorization request, or a signed
	// token, expired.
	AuthorizationRequestTimedOut
	// UnknownEntity means an entity identifier could not be understood.
	UnknownEntity
	// EntityNotFound means the API reported that the addressed entity does not exist.
	EntityNotFound
	// RateLimitExceeded means the API throttled the request.
	RateLimitExceeded
)

var kindNames = map[Kind]string{
	Communication:                "CommunicationError",
	Marshalling:                  "MarshallingError",
	InvalidRequest:               "InvalidRequest",
	InvalidResponse:              "InvalidResponse",
	InvalidCredentials:           "InvalidCredentials",
	Cryptography:                 "CryptographyError",
	InvalidSignature:             "InvalidSignature",
	NoKeyFound:                   "NoKeyFound",
	AuthorizationRequestTimedOut: "AuthorizationRequestTimedOut",
	UnknownEntity:                "UnknownEntity",
	EntityNotFound:               "EntityNotFound",
	RateLimitExceeded:            "RateLimitExceeded",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Retryable reports whether an operation failing with this kind may succeed
// if attempted again unchanged.
func (k Kind) Retryable() bool {
	switch k {
	case Communication, InvalidResponse, RateLimitExceeded:
		return true
	}
	return false
}

// Error is the concrete error type returned by the SDK.
type Error struct {
	Kind    Kind
	Message string
	// Code is the error code reported by the API, if any.
	Code string
	Err  error
}

// New returns an Error of the given kind. err may be nil.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf is like New but formats the message.
func Newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode returns a copy of e carrying the API error code.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind, message and code. Wrapped
// causes are compared by errors.Is on the chain, not here.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message && e.Code == t.Code
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var lkErr *Error
	if errors.As(err, &lkErr) {
		return lkErr.Kind, true
	}
	return 0, false
}

// Is reports whether err's chain contains an *Error of the given kind. Unlike
// KindOf, it looks past the first *Error, so a NoKeyFound caused by an
// EntityNotFound is both.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}

		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if Is(inner, kind) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}
	return false
}

// Retryable reports whether err is an SDK error of a retryable kind.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k.Retryable()
}

// CodeOf returns the API error code carried by err, if any.
func CodeOf(err error) string {
	var lkErr *Error
	if errors.As(err, &lkErr) {
		return lkErr.Code
	}
	return ""
}
