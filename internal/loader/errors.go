package loader

import (
	"errors"
	"fmt"
)

// Fixed, human-readable failure reasons reported to the host.
const (
	ReasonCreateContent    = "Unable to create content"
	ReasonUnresolvedImport = "Unresolved import"
	ReasonNotReady         = "Content is not ready"
)

// LoadError is a terminal content-resolution failure. Reason is one of the
// Reason constants and is what the host sees; Err carries the detail for
// logs.
type LoadError struct {
	Reason string

	// Package names the import that failed, for ReasonUnresolvedImport.
	Package string

	Err error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	switch {
	case e.Package != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Package, e.Err)
	case e.Package != "":
		return fmt.Sprintf("%s: %s", e.Reason, e.Package)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the host-facing reason for err, or err's text if it is
// not a LoadError.
func ReasonOf(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Reason
	}
	return err.Error()
}

// IsUnresolvedImport returns true if the load failed on an empty package.
func IsUnresolvedImport(err error) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Reason == ReasonUnresolvedImport
}

// IsNotReady returns true if the content was not ready after resolution.
func IsNotReady(err error) bool {
	var le *LoadError
	return errors.As(err, &le) && le.Reason == ReasonNotReady
}
