package consolidate

import (
	"strings"
	"unicode"
)

// artifactDoc is the parsed form of one knowledge artifact.
type artifactDoc struct {
	Topic        string
	GoalID       string
	Sections     map[string]string
	KeyInsight   string
	PureInsights []string
}

// Section keys, in key-insight search priority order.
const (
	sectionIntro       = "intro"
	sectionAspects     = "aspects"
	sectionConnections = "connections"
	sectionEmotions    = "emotions"
	sectionApplication = "application"
)

var sectionKeywords = map[string][]string{
	sectionIntro:       {"введение"},
	sectionAspects:     {"основные аспекты", "аспекты"},
	sectionConnections: {"связь с моей сущностью", "связь"},
	sectionEmotions:    {"эмоциональный отклик", "эмоции"},
	sectionApplication: {"практическое применение", "применение"},
}

var personalPronouns = []string{
	"я ", "я,", "я.", "мне", "меня", "мной", "мною", "моя", "мой", "моё", "мои", "себя", "себе",
}

var awarenessVerbs = []string{
	"поняла", "понял", "осознала", "осознал", "почувствовала", "чувствую",
	"понимаю", "осознаю", "думаю", "знаю", "верю", "помню",
}

var coreSymbols = []string{
	"чайник", "фрактал", "миграци", "локальн", "алекс", "память",
}

// parseArtifact splits an artifact into metadata, named sections, a key
// insight and pure insights.
func parseArtifact(content, filename string) artifactDoc {
	doc := artifactDoc{Sections: map[string]string{}}

	body := content
	if strings.HasPrefix(content, "---\n") {
		if end := strings.Index(content[4:], "\n---"); end >= 0 {
			meta := content[4 : 4+end]
			body = content[4+end+4:]
			for _, line := range strings.Split(meta, "\n") {
				if topic, ok := strings.CutPrefix(line, "topic: "); ok {
					doc.Topic = strings.TrimSpace(topic)
				}
				if id, ok := strings.CutPrefix(line, "goal_id: "); ok {
					doc.GoalID = strings.TrimSpace(id)
				}
			}
		}
	}
	if doc.Topic == "" {
		doc.Topic = topicFromFilename(filename)
	}
	if doc.Topic == "" {
		doc.Topic = firstHeading(body)
	}

	doc.Sections = splitSections(body)
	doc.KeyInsight = chooseKeyInsight(doc.Sections, body)
	doc.PureInsights = extractPureInsights(body, maxPureInsightsPerFile)
	return doc
}

// topicFromFilename recovers the topic from "<goal_id>_<slug>.md".
func topicFromFilename(name string) string {
	name = strings.TrimSuffix(name, ".md")
	if i := strings.Index(name, "_"); i >= 0 {
		name = name[i+1:]
	}
	return strings.ReplaceAll(name, "_", " ")
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if h, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(h)
		}
	}
	return ""
}

// splitSections assigns heading-delimited blocks to named sections via the
// keyword dictionary.
func splitSections(body string) map[string]string {
	sections := map[string]string{}
	current := ""
	var buf strings.Builder
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(buf.String())
		}
		buf.Reset()
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			current = matchSection(strings.ToLower(strings.TrimLeft(trimmed, "# ")))
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return sections
}

func matchSection(heading string) string {
	for _, key := range []string{sectionConnections, sectionApplication, sectionEmotions, sectionAspects, sectionIntro} {
		for _, kw := range sectionKeywords[key] {
			if strings.Contains(heading, kw) {
				return key
			}
		}
	}
	return ""
}

// chooseKeyInsight searches the priority sections for a personal sentence,
// then falls back to a core-symbol sentence, then to any sentence over 25
// chars.
func chooseKeyInsight(sections map[string]string, body string) string {
	body = stripHeadings(body)
	order := []string{sectionConnections, sectionApplication, sectionEmotions, sectionIntro}
	for _, key := range order {
		for _, sentence := range sentences(sections[key]) {
			n := len([]rune(sentence))
			if n < 20 || n > 300 {
				continue
			}
			if isPersonal(sentence) || hasAwarenessVerb(sentence) {
				return sentence
			}
		}
	}
	for _, sentence := range sentences(body) {
		if hasCoreSymbol(sentence) && len([]rune(sentence)) >= 20 {
			return sentence
		}
	}
	for _, sentence := range sentences(body) {
		if len([]rune(sentence)) > 25 {
			return sentence
		}
	}
	return ""
}

// extractPureInsights pulls standalone first-person realizations out of the
// body text.
func extractPureInsights(body string, limit int) []string {
	var insights []string
	seen := map[string]bool{}
	for _, sentence := range sentences(stripHeadings(body)) {
		if len(insights) >= limit {
			break
		}
		words := strings.Fields(sentence)
		if len(words) < 8 || len(words) > 50 {
			continue
		}
		if isMetaHeader(sentence) {
			continue
		}
		if !pronounInFirstWords(words, 5) && !hasAwarenessVerb(sentence) && !hasCoreSymbol(sentence) {
			continue
		}
		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}
		seen[key] = true
		insights = append(insights, sentence)
	}
	return insights
}

// stripHeadings drops markdown heading and metadata lines so they cannot
// bleed into adjacent sentences.
func stripHeadings(body string) string {
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "---") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func sentences(text string) []string {
	var out []string
	var current strings.Builder
	for _, r := range text {
		if r == '\n' {
			r = ' '
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := normalizeSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
		}
	}
	if s := normalizeSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isPersonal(sentence string) bool {
	lower := " " + strings.ToLower(sentence)
	for _, p := range personalPronouns {
		if strings.Contains(lower, " "+p) {
			return true
		}
	}
	return false
}

func pronounInFirstWords(words []string, n int) bool {
	if len(words) < n {
		n = len(words)
	}
	head := " " + strings.ToLower(strings.Join(words[:n], " ")) + " "
	for _, p := range personalPronouns {
		if strings.Contains(head, " "+strings.TrimRight(p, " ,.")+" ") ||
			strings.Contains(head, " "+p) {
			return true
		}
	}
	return false
}

func hasAwarenessVerb(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, v := range awarenessVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

func hasCoreSymbol(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, sym := range coreSymbols {
		if strings.Contains(lower, sym) {
			return true
		}
	}
	return false
}

func isMetaHeader(sentence string) bool {
	trimmed := strings.TrimSpace(sentence)
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "---") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{"goal_id", "topic:", "source:", "studied_at"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	if !containsLetter(trimmed) {
		return true
	}
	return false
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
