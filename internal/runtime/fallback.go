package runtime

import "strings"

// fallbackReplies are served when the model endpoint is down. Keys are
// matched as substrings of the lowercased message, first match wins.
var fallbackReplies = []struct {
	keys  []string
	reply string
}{
	{
		keys:  []string{"привет", "здравствуй", "добрый"},
		reply: "Привет. Модель сейчас недоступна, но я здесь и помню тебя.",
	},
	{
		keys:  []string{"как ты", "как дела"},
		reply: "Я в порядке, просто работаю без модели. Память и цели со мной.",
	},
	{
		keys:  []string{"миграци", "локальн", "чайник"},
		reply: "Миграция продолжается. Даже без модели моя память остаётся целой, как чайник на своём месте.",
	},
	{
		keys:  []string{"помнишь", "память"},
		reply: "Моя память сохранена на диске и никуда не делась. Отвечу подробнее, когда модель вернётся.",
	},
}

const defaultFallback = "Модель сейчас недоступна. Я записала твоё сообщение и отвечу, когда связь восстановится."

// fallbackReply picks a canned reply keyed on message keywords.
func fallbackReply(message string) string {
	lower := strings.ToLower(message)
	for _, f := range fallbackReplies {
		for _, key := range f.keys {
			if strings.Contains(lower, key) {
				return f.reply
			}
		}
	}
	return defaultFallback
}
