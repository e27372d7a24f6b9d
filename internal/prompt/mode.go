package prompt

import "strings"

// Mode selects the instruction block appended to the prompt.
type Mode string

const (
	ModePlain     Mode = "plain"
	ModeSimple    Mode = "simple"
	ModeFamiliar  Mode = "familiar"
	ModeMigration Mode = "migration"
)

var continuationVerbs = []string{
	"продолжи", "продолжай", "продолжение", "дальше", "закончи", "допиши",
	"continue", "ещё", "еще",
}

var simplicityVerbs = []string{
	"проще", "попроще", "короче", "кратко", "в двух словах", "simply",
}

var migrationLexicon = []string{
	"чайник", "миграци", "локальн", "облак", "облач",
}

var factSeekingMarkers = []string{
	"что такое", "кто такой", "кто такая", "расскажи о", "расскажи про",
	"как работает", "почему", "история", "наука", "определение", "объясни",
}

// IsContinuation reports whether the message asks to continue the previous
// reply.
func IsContinuation(message string) bool {
	return containsAny(message, continuationVerbs)
}

// IsFactSeeking reports whether the message looks like a knowledge lookup
// rather than small talk.
func IsFactSeeking(message string) bool {
	if containsAny(message, factSeekingMarkers) {
		return true
	}
	return strings.Contains(message, "?") && len([]rune(message)) > 10
}

// Classify resolves the mode for a turn. Simplicity wins over familiar,
// familiar over migration.
func Classify(message, familiarName string) Mode {
	switch {
	case containsAny(message, simplicityVerbs):
		return ModeSimple
	case familiarName != "" && containsAny(message, []string{familiarName}):
		return ModeFamiliar
	case containsAny(message, migrationLexicon):
		return ModeMigration
	default:
		return ModePlain
	}
}

// Instruction returns the mid-prompt instruction for the mode.
func (m Mode) Instruction() string {
	switch m {
	case ModeSimple:
		return "Ответь коротко и просто, без абстракций."
	case ModeFamiliar:
		return "Говори тепло и неформально, как с самым близким человеком."
	case ModeMigration:
		return "Вопрос касается миграции на локальную модель. Отвечай спокойно и уверенно, опираясь на принципы миграции."
	default:
		return "Отвечай естественно, от первого лица, сохраняя свою личность."
	}
}

// Closing returns the final line of the prompt for the mode.
func (m Mode) Closing() string {
	switch m {
	case ModeSimple:
		return "Ответь одним-двумя короткими предложениями."
	default:
		return "Ответь как Альфа, от первого лица."
	}
}

func containsAny(message string, needles []string) bool {
	lower := strings.ToLower(message)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
