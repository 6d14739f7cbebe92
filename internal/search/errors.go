package search

import (
	"errors"
	"fmt"

	"github.com/FranksOps/serpd/internal/browser"
)

// ErrQueryRequired is returned for an empty query. No browser is launched.
var ErrQueryRequired = errors.New("search query is required")

// StepError reports which step of the search sequence failed.
type StepError struct {
	Step string
	// Challenge names the blocking page detected when the step failed, if any.
	Challenge string
	Err       error
}

func (e *StepError) Error() string {
	if e.Challenge != "" {
		return fmt.Sprintf("%s: blocked by %s challenge: %v", e.Step, e.Challenge, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Timeout reports whether the step failed because a bounded wait expired.
func (e *StepError) Timeout() bool { return browser.IsTimeout(e.Err) }
