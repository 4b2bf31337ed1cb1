package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies model call failures.
type Kind string

const (
	// KindUnavailable: endpoint unreachable, timed out, overloaded or circuit open.
	KindUnavailable Kind = "model_unavailable"
	// KindRequest: the service rejected the request (bad payload, unknown model, too large).
	KindRequest Kind = "model_request"
	// KindResponse: the reply carried no usable text.
	KindResponse Kind = "model_response"
)

var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelRequest     = errors.New("model request rejected")
	ErrModelResponse    = errors.New("model response malformed")
)

// ModelError is the only error type returned by providers.
type ModelError struct {
	Kind     Kind
	Provider string
	Status   int
	Msg      string
	Err      error
}

func (e *ModelError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Provider, e.sentinel().Error())
	if e.Status != 0 {
		s += fmt.Sprintf(" (status=%d)", e.Status)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ModelError) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrModelUnavailable) works
// through any wrapping.
func (e *ModelError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ModelError) sentinel() error {
	switch e.Kind {
	case KindRequest:
		return ErrModelRequest
	case KindResponse:
		return ErrModelResponse
	default:
		return ErrModelUnavailable
	}
}

// KindOf extracts the kind of a provider error; ok is false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Kind, true
	}
	return "", false
}

func unavailable(provider, msg string, err error) *ModelError {
	return &ModelError{Kind: KindUnavailable, Provider: provider, Msg: msg, Err: err}
}

func rejected(provider, msg string, err error) *ModelError {
	return &ModelError{Kind: KindRequest, Provider: provider, Msg: msg, Err: err}
}

func malformed(provider, msg string, err error) *ModelError {
	return &ModelError{Kind: KindResponse, Provider: provider, Msg: msg, Err: err}
}

// classifyTransport maps an http.Client.Do error.
func classifyTransport(ctx context.Context, provider string, err error) *ModelError {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return unavailable(provider, "timed out", err)
	case errors.Is(err, context.Canceled):
		return unavailable(provider, "canceled", err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return unavailable(provider, "timed out", err)
	}
	return unavailable(provider, "endpoint not reachable", err)
}

// classifyStatus maps a non-2xx status. Overload and server faults count as
// unavailable; every other 4xx is a rejected request.
func classifyStatus(provider string, status int, msg string) *ModelError {
	e := &ModelError{Provider: provider, Status: status, Msg: msg}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		e.Kind = KindUnavailable
	default:
		e.Kind = KindRequest
	}
	return e
}
