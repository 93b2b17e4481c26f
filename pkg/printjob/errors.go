package printjob

import (
	"errors"
	"fmt"
)

// ErrorKind classifies submission failures
type ErrorKind int

const (
	// NotConfigured means no printer endpoint is set
	NotConfigured ErrorKind = iota + 1
	// FileMissing means the document could not be read
	FileMissing
	// ConnectorError means the printer could not be reached or answered garbage
	ConnectorError
	// PrinterRejected means the printer answered with a non-success status
	PrinterRejected
)

// String returns the kind name
func (k ErrorKind) String() string {
	switch k {
	case NotConfigured:
		return "not_configured"
	case FileMissing:
		return "file_missing"
	case ConnectorError:
		return "connector_error"
	case PrinterRejected:
		return "printer_rejected"
	default:
		return "unknown"
	}
}

// Error is returned by Submitter.Submit for every failed submission
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("print job failed: %s", e.Kind)
	}
	return fmt.Sprintf("print job failed: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNoEndpoint is wrapped by NotConfigured errors
var ErrNoEndpoint = errors.New("printer endpoint is not configured")

// KindOf returns the kind of a print error, or zero if err is not one
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
