package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Transcript accumulates recognized text for one capture session.
// Committed only grows; Pending is the latest non-final hypothesis.
type Transcript struct {
	Committed string
	Pending   string
}

// Apply folds one recognition event into the transcript and reports whether
// committed text grew. Results before ResultIndex were already applied by an
// earlier event and are skipped. New finals are joined to Committed with a
// space unless either side of the join already has one.
func (t *Transcript) Apply(event RecognitionEvent) bool {
	start := event.ResultIndex
	if start < 0 {
		start = 0
	}

	var finals, interim strings.Builder
	for i := start; i < len(event.Results); i++ {
		text := event.Results[i].Best()
		if event.Results[i].IsFinal {
			finals.WriteString(text)
		} else {
			interim.WriteString(text)
		}
	}

	t.Pending = interim.String()
	if finals.Len() == 0 {
		return false
	}
	t.Committed = joinText(t.Committed, finals.String())
	return true
}

// Display is the text shown to the user.
func (t Transcript) Display() string {
	return joinText(t.Committed, t.Pending)
}

// CommitText is the committed text with recognizer padding removed.
func (t Transcript) CommitText() string {
	return strings.TrimSpace(t.Committed)
}

// Reset empties both fields.
func (t *Transcript) Reset() {
	t.Committed = ""
	t.Pending = ""
}

func joinText(base, next string) string {
	if base == "" || next == "" {
		return base + next
	}
	last, _ := utf8.DecodeLastRuneInString(base)
	first, _ := utf8.DecodeRuneInString(next)
	if unicode.IsSpace(last) || unicode.IsSpace(first) {
		return base + next
	}
	return base + " " + next
}
