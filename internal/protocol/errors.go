package protocol

import (
	"errors"
	"fmt"
)

// ParseErrorCode categorizes incoming-message failures.
type ParseErrorCode string

const (
	// ErrCodeMalformed indicates the bytes are not a JSON envelope.
	ErrCodeMalformed ParseErrorCode = "MALFORMED"

	// ErrCodeMissingType indicates the envelope has no type tag.
	ErrCodeMissingType ParseErrorCode = "MISSING_TYPE"

	// ErrCodeUnknownType indicates a type tag with no handler.
	ErrCodeUnknownType ParseErrorCode = "UNKNOWN_TYPE"

	// ErrCodeMissingField indicates a required payload field is absent.
	ErrCodeMissingField ParseErrorCode = "MISSING_FIELD"
)

// ParseError describes why an incoming envelope was dropped.
type ParseError struct {
	Code    ParseErrorCode
	Type    string
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (type=%s)", e.Code, e.Message, e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownType reports whether err is a ParseError for an unhandled type.
func IsUnknownType(err error) bool {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeUnknownType
	}
	return false
}

func missing(msgType, field string) *ParseError {
	return &ParseError{Code: ErrCodeMissingField, Type: msgType, Message: fmt.Sprintf("missing %q", field)}
}
