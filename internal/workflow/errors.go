package workflow

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrAuth is returned when the login response carries no token
	ErrAuth = errors.New("workflow authentication failed")

	// ErrDiscovery is returned when no workflow matches the configured name
	ErrDiscovery = errors.New("workflow not found")

	// ErrTrigger is returned when the trigger response yields neither a poll target nor a result
	ErrTrigger = errors.New("workflow trigger failed")

	// ErrTimeout is returned when polling exceeds the configured ceiling
	ErrTimeout = errors.New("workflow polling timed out")

	// ErrTask is returned for classified workflow errors and transport failures
	ErrTask = errors.New("workflow task failed")
)

const maxDetailLen = 200

// truncate shortens s to at most maxDetailLen bytes, backing off to a rune
// boundary.
func truncate(s string) string {
	if len(s) <= maxDetailLen {
		return s
	}
	cut := maxDetailLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, truncate(fmt.Sprintf(format, args...)))
}
