package cmd

import (
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// newSpinner returns a stderr spinner, or nil when progress output is
// suppressed or would interleave with verbose logging.
func newSpinner(suffix string) *spinner.Spinner {
	if quiet || verbose || trace {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = suffix
	return s
}

func setSpinnerSuffix(s *spinner.Spinner, suffix string) {
	if s == nil {
		return
	}
	s.Lock()
	s.Suffix = suffix
	s.Unlock()
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
