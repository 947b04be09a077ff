package workflow

import "strings"

// Outcome is the classification of a workflow-reported status.
type Outcome int

const (
	NonTerminal Outcome = iota
	Success
	Error
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "non_terminal"
	}
}

// StatusSet is a set of lower-cased status values.
type StatusSet map[string]struct{}

// NewStatusSet builds a set from raw values, trimming and lower-casing each.
func NewStatusSet(values ...string) StatusSet {
	set := make(StatusSet, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Contains reports whether status is in the set.
func (s StatusSet) Contains(status string) bool {
	_, ok := s[status]
	return ok
}

// Classify maps a lower-cased status to an outcome. Any status in neither set
// is NonTerminal; success wins if a status appears in both.
func Classify(status string, success, failure StatusSet) Outcome {
	switch {
	case success.Contains(status):
		return Success
	case failure.Contains(status):
		return Error
	default:
		return NonTerminal
	}
}
