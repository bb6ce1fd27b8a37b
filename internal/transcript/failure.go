package transcript

import "regexp"

// FailurePredicate decides whether free-text tool output represents a
// failure. The upstream protocol carries no structured ok/error field on
// tool results, so failure detection is a documented heuristic; keeping
// it pluggable lets a structured status replace it if the protocol grows
// one. An explicit status on the result event always wins over the
// predicate.
type FailurePredicate func(content string) bool

var failurePattern = regexp.MustCompile(`(?i)^\s*(error|failed|failure|exception)\b|\b(fatal error|command failed|permission denied)\b`)

// DefaultFailurePredicate matches common failure phrasing near the start
// of the result text. Only the leading portion is examined so a long
// successful output that merely mentions "error" is not misclassified.
func DefaultFailurePredicate(content string) bool {
	const window = 256
	if len(content) > window {
		content = content[:window]
	}
	return failurePattern.MatchString(content)
}
