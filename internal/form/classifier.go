package form

import (
	"regexp"
	"strings"
)

// Intent classifies free-text input that arrives while a form is
// collecting fields.
type Intent string

const (
	// IntentContinue treats the input as an answer to the current field.
	IntentContinue Intent = "continue"
	// IntentCancel abandons the form outright.
	IntentCancel Intent = "cancel"
	// IntentQuestion suspends the form so the assistant can answer.
	IntentQuestion Intent = "question"
	// IntentMistake flags correction phrasing. Detected but not acted
	// on by the machine itself; callers may build field-rewind on top.
	IntentMistake Intent = "mistake"
)

var (
	cancelPattern  = regexp.MustCompile(`(?i)\b(cancel|stop|quit|exit|abort|never ?mind|forget it)\b`)
	mistakePattern = regexp.MustCompile(`(?i)\b(oops|wait|wrong|typo|mistake|go back|undo)\b`)
	// Change-of-mind phrasing counts as a question when bundled with an
	// intent verb ("actually I want to...").
	pivotPattern = regexp.MustCompile(`(?i)\b(actually|instead|rather)\b.*\b(want|need|like|interested|looking)\b`)
	tellPattern  = regexp.MustCompile(`(?i)\b(tell me|explain)\b`)
)

var interrogativeOpeners = map[string]bool{
	"what": true, "who": true, "why": true, "how": true,
	"when": true, "where": true, "which": true,
	"can": true, "could": true, "would": true, "should": true,
	"do": true, "does": true, "did": true,
	"is": true, "are": true, "was": true, "were": true,
}

// ClassifyInput buckets conversational input by priority: explicit
// cancellation first, then question markers, then correction phrasing,
// and everything else is a field answer.
func ClassifyInput(input string) Intent {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return IntentContinue
	}

	if cancelPattern.MatchString(trimmed) {
		return IntentCancel
	}

	if strings.Contains(trimmed, "?") || tellPattern.MatchString(trimmed) || pivotPattern.MatchString(trimmed) {
		return IntentQuestion
	}
	if fields := strings.Fields(strings.ToLower(trimmed)); len(fields) > 1 && interrogativeOpeners[fields[0]] {
		return IntentQuestion
	}

	if mistakePattern.MatchString(trimmed) {
		return IntentMistake
	}

	return IntentContinue
}
