// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnavailable is returned when no transport can be used.
var ErrUnavailable = errors.New("no oracle transport is available")

// FatalKind names the reason a call can never succeed without operator action.
type FatalKind string

const (
	KindBilling FatalKind = "billing"
	KindAuth    FatalKind = "auth"
	KindRequest FatalKind = "request"
	KindConfig  FatalKind = "config"
)

// FatalError is a permanent oracle failure. It is never retried and never
// downgraded to a low-confidence result.
type FatalError struct {
	Kind      FatalKind
	Transport string
	Err       error
}

func (e *FatalError) Error() string {
	if e.Transport == "" {
		return fmt.Sprintf("oracle %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("oracle %s error (%s transport): %v", e.Kind, e.Transport, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(kind FatalKind, transport string, err error) error {
	return &FatalError{Kind: kind, Transport: transport, Err: err}
}

// TransientError is a temporary failure that may succeed on retry.
type TransientError struct {
	Transport string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("oracle transient error (%s transport): %v", e.Transport, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(transport string, err error) error {
	return &TransientError{Transport: transport, Err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// AsFatal returns the FatalError in err's chain, if any.
func AsFatal(err error) (*FatalError, bool) {
	var fatal *FatalError
	ok := errors.As(err, &fatal)
	return fatal, ok
}

var billingPhrases = []string{
	"insufficient_quota",
	"exceeded your current quota",
	"credit balance is too low",
	"insufficient credit",
	"out of credits",
	"billing",
	"payment required",
	"quota exceeded",
}

var authPhrases = []string{
	"invalid api key",
	"invalid x-api-key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"not logged in",
	"please run /login",
	"login required",
	"oauth token",
}

func containsAny(s string, phrases []string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(transport string, statusCode int, detail string) error {
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	err := fmt.Errorf("API error (status %d): %s", statusCode, detail)

	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return NewFatalError(KindAuth, transport, err)
	case statusCode == http.StatusPaymentRequired:
		return NewFatalError(KindBilling, transport, err)
	case statusCode == http.StatusTooManyRequests:
		// quota exhaustion is reported as 429 by some providers
		if containsAny(detail, billingPhrases) {
			return NewFatalError(KindBilling, transport, err)
		}
		return NewTransientError(transport, err)
	case statusCode >= 500:
		return NewTransientError(transport, err)
	case statusCode == http.StatusRequestTimeout:
		return NewTransientError(transport, err)
	case statusCode >= 400:
		if containsAny(detail, billingPhrases) {
			return NewFatalError(KindBilling, transport, err)
		}
		return NewFatalError(KindRequest, transport, err)
	default:
		return NewTransientError(transport, err)
	}
}

// classifyCLIError classifies a failed subprocess run from its output.
// Billing and login problems are fatal; anything else may be retried.
func classifyCLIError(transport, output string, runErr error) error {
	output = strings.TrimSpace(output)
	if len(output) > 300 {
		output = output[:300] + "..."
	}
	err := fmt.Errorf("%w: %s", runErr, output)
	if runErr == nil {
		err = errors.New(output)
	}
	switch {
	case containsAny(output, billingPhrases):
		return NewFatalError(KindBilling, transport, err)
	case containsAny(output, authPhrases):
		return NewFatalError(KindAuth, transport, err)
	default:
		return NewTransientError(transport, err)
	}
}
