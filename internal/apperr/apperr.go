// Package apperr classifies failures of the metering pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is the class of a failure.
type Kind string

const (
	KindAuthentication      Kind = "authentication"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindPlanRequired        Kind = "plan_required"
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindMidStreamParse      Kind = "mid_stream_parse"
	KindPersistence         Kind = "persistence"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal"
)

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindPlanRequired:
		return http.StatusPaymentRequired
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindUpstreamUnavailable, KindMidStreamParse:
		return http.StatusBadGateway
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Authentication(reason string) *Error {
	return New(KindAuthentication, reason, nil)
}

func QuotaExceeded(reason string) *Error {
	return New(KindQuotaExceeded, reason, nil)
}

func PlanRequired(reason string) *Error {
	return New(KindPlanRequired, reason, nil)
}

func InvalidInput(reason string, err error) *Error {
	return New(KindInvalidInput, reason, err)
}

func NotFound(reason string, err error) *Error {
	return New(KindNotFound, reason, err)
}

func Forbidden(reason string) *Error {
	return New(KindForbidden, reason, nil)
}

func Upstream(reason string, err error) *Error {
	return New(KindUpstreamUnavailable, reason, err)
}

func Persistence(reason string, err error) *Error {
	return New(KindPersistence, reason, err)
}

func Internal(reason string, err error) *Error {
	return New(KindInternal, reason, err)
}

// KindOf returns the kind of the first classified error in err's chain.
// Context cancellation is reported as KindCancelled; anything else
// unclassified is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
