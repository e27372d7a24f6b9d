package knowledge

import (
	"strings"
	"unicode"
)

// extractKeyFacts pulls up to limit sentences out of the article text that
// plausibly carry facts about the topic: 25 to 400 chars long, and either
// sharing a keyword with the topic or containing a numeric marker.
func extractKeyFacts(text, topic string, limit int) []string {
	keywords := topicKeywords(topic)
	var facts []string
	for _, sentence := range splitSentences(text) {
		if len(facts) >= limit {
			break
		}
		runeLen := len([]rune(sentence))
		if runeLen < 25 || runeLen > 400 {
			continue
		}
		if overlapsKeywords(sentence, keywords) || containsDigit(sentence) {
			facts = append(facts, sentence)
		}
	}
	return facts
}

// topicKeywords lowercases the topic and keeps words of 4+ runes.
func topicKeywords(topic string) []string {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		w = strings.TrimFunc(w, unicode.IsPunct)
		if len([]rune(w)) >= 4 {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

func overlapsKeywords(sentence string, keywords []string) bool {
	lower := strings.ToLower(sentence)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// splitSentences breaks text on sentence terminators, keeping the
// terminator attached.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
