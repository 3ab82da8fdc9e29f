// Copyright 2026 The Tsurukame Authors
// SPDX-License-Identifier: Apache-2.0

package wanikani

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure so the sync orchestrator can
// decide whether to log, swallow, or raise it.
type ErrorKind int

const (
	// ErrorKindOther is an uncategorized failure; logged with a description
	// only, no request/response context.
	ErrorKindOther ErrorKind = iota

	// ErrorKindUnauthorized means the remote service rejected our
	// credentials. Raised as a signal to re-authenticate, never logged as a
	// data error.
	ErrorKindUnauthorized

	// ErrorKindUnprocessable means the remote service rejected one pending
	// mutation as permanently invalid, typically a duplicate report that
	// already arrived from another client. The item is discarded.
	ErrorKindUnprocessable

	// ErrorKindConnectivity covers no-network and transport aborts or
	// timeouts. Expected, self-resolving, never logged.
	ErrorKindConnectivity

	// ErrorKindProtocol means the response could not be decoded.
	ErrorKindProtocol

	// ErrorKindRemoteStatus means the remote service reported a failure
	// status code other than the ones above.
	ErrorKindRemoteStatus
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindUnauthorized:
		return "unauthorized"
	case ErrorKindUnprocessable:
		return "unprocessable"
	case ErrorKindConnectivity:
		return "connectivity"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindRemoteStatus:
		return "remote status"
	default:
		return "other"
	}
}

// Error is a classified gateway failure with the diagnostic context the
// error log records for remote-reported and protocol failures.
type Error struct {
	Kind         ErrorKind
	StatusCode   int
	URL          string
	RequestBody  string
	ResponseBody string
	Message      string
	Err          error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or ErrorKindOther when the
// error carries no taxonomy.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorKindOther
}

// IsUnprocessable reports whether err is a permanent per-item rejection.
func IsUnprocessable(err error) bool {
	return KindOf(err) == ErrorKindUnprocessable
}
