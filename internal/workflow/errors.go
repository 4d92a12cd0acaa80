// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gemaraproj/registry-review/internal/review"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidArgument marks caller mistakes: unknown documents or
	// requirements, bad stage names, malformed decisions.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StageDependencyError reports a stage invoked before its predecessors
// completed.
type StageDependencyError struct {
	Stage   review.Stage
	Missing []review.Stage
}

func (e *StageDependencyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, s := range e.Missing {
		names[i] = string(s)
	}
	return fmt.Sprintf("stage %s cannot run: %s must complete first", e.Stage, strings.Join(names, ", "))
}

// IsStageDependency reports whether err is a StageDependencyError.
func IsStageDependency(err error) bool {
	var sde *StageDependencyError
	return errors.As(err, &sde)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
