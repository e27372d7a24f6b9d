package llm

import (
	"strings"
	"unicode"
)

// suspiciousEndings: a reply ending with one of these was cut mid-thought.
var suspiciousEndings = []string{"...", ",", "-", "—", ":"}

// danglingConnectors: a reply whose final word is a connector is incomplete
// even when punctuated.
var danglingConnectors = map[string]bool{
	"и": true, "но": true, "что": true, "если": true,
	"а": true, "или": true, "чтобы": true, "когда": true,
	"то": true, "потому": true, "также": true,
}

// roleMarkers are model artifacts that must never reach the operator.
var roleMarkers = []string{"Алиса:", "Alpha:", "Ассистент:", "Assistant:", "AI:"}

// IsTruncated reports whether the reply looks cut off: suspicious trailing
// punctuation, an unbalanced opening bracket or quote, or a dangling
// connector word.
func IsTruncated(reply string) bool {
	s := strings.TrimSpace(reply)
	if s == "" {
		return false
	}

	for _, ending := range suspiciousEndings {
		if strings.HasSuffix(s, ending) {
			return true
		}
	}

	if strings.Count(s, "(") > strings.Count(s, ")") {
		return true
	}
	if strings.Count(s, "«") > strings.Count(s, "»") {
		return true
	}
	if strings.Count(s, `"`)%2 != 0 {
		return true
	}

	words := strings.Fields(s)
	if len(words) > 0 {
		last := strings.ToLower(strings.TrimFunc(words[len(words)-1], unicode.IsPunct))
		if danglingConnectors[last] {
			return true
		}
	}
	return false
}

// Sanitize trims a truncated reply back to its last complete sentence,
// strips role markers, and guarantees terminal punctuation. The original
// text stays available through LastCompleteResponse.
func Sanitize(reply string) string {
	s := strings.TrimSpace(reply)
	for _, marker := range roleMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.TrimSpace(s)

	// Shed trailing ellipses and dangling punctuation before re-splitting.
	for {
		trimmed := strings.TrimRight(s, " \t")
		trimmed = strings.TrimSuffix(trimmed, "...")
		trimmed = strings.TrimSuffix(trimmed, "…")
		trimmed = strings.TrimRight(trimmed, ",:-—")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	if s == "" {
		return s
	}

	// Cut at the last sentence terminator; keep everything if none exists,
	// a fragment beats an empty reply.
	cut := -1
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			cut = i
		}
	}
	if cut >= 0 && cut < len(s)-1 {
		s = strings.TrimSpace(s[:cut+1])
	}

	last, _ := lastRune(s)
	if last != '.' && last != '!' && last != '?' {
		s = strings.TrimRight(s, ",:-—… ")
		s += "."
	}
	return s
}

func lastRune(s string) (rune, bool) {
	var last rune
	found := false
	for _, r := range s {
		last = r
		found = true
	}
	return last, found
}
