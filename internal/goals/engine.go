package goals

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/knowledge"
	"github.com/normanking/alpha/internal/llm"
	"github.com/normanking/alpha/internal/memory"
	"github.com/normanking/alpha/internal/metrics"
	"github.com/normanking/alpha/internal/safety"
)

// Dispatcher is the slice of the LLM dispatcher the engine needs.
type Dispatcher interface {
	Available() bool
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// KnowledgeSource is the slice of the article adapter the engine needs.
type KnowledgeSource interface {
	Available(ctx context.Context) bool
	Learn(ctx context.Context, topic string) knowledge.LearnResult
}

// Engine studies pending goals one at a time and writes knowledge
// artifacts.
type Engine struct {
	store      *Store
	dispatcher Dispatcher
	source     KnowledgeSource
	mem        *memory.Store
	core       *corestate.Store
	gate       *safety.Gate
	persona    string

	knowledgeDir string
	quota        *dailyQuota
}

// NewEngine wires the engine. personaBlock heads every study prompt.
func NewEngine(store *Store, dispatcher Dispatcher, source KnowledgeSource, mem *memory.Store, core *corestate.Store, gate *safety.Gate, personaBlock, knowledgeDir string, maxPerDay int) *Engine {
	return &Engine{
		store:        store,
		dispatcher:   dispatcher,
		source:       source,
		mem:          mem,
		core:         core,
		gate:         gate,
		persona:      personaBlock,
		knowledgeDir: knowledgeDir,
		quota:        newDailyQuota(maxPerDay),
	}
}

// SetClock overrides the quota clock.
func (e *Engine) SetClock(now func() time.Time) { e.quota.now = now }

// QuotaRemaining reports how many executions remain today.
func (e *Engine) QuotaRemaining() int { return e.quota.remaining() }

// ExecuteOne studies the oldest pending goal. It returns false without
// side effects when the quota is spent, the model is down, or the queue is
// empty.
func (e *Engine) ExecuteOne(ctx context.Context) (bool, error) {
	if !e.quota.allow() {
		log.Debug().Msg("goal quota exhausted for today")
		return false, nil
	}
	if !e.dispatcher.Available() {
		return false, nil
	}
	goal, err := e.store.OldestPending()
	if err != nil {
		return false, err
	}
	if goal == nil {
		return false, nil
	}

	topic := ExtractTopic(goal)
	log.Info().Str("goal", goal.ID).Str("topic", topic).Msg("studying goal")

	var studyText string
	var external *knowledge.LearnResult
	if e.useExternal(ctx, topic) {
		result := e.source.Learn(ctx, topic)
		if result.Success {
			external = &result
			studyText, err = e.dispatcher.Generate(ctx, e.integrationPrompt(topic, result.FormattedKnowledge), llm.Options{})
		} else {
			studyText, err = e.dispatcher.Generate(ctx, e.studyPrompt(topic), llm.Options{})
		}
	} else {
		studyText, err = e.dispatcher.Generate(ctx, e.studyPrompt(topic), llm.Options{})
	}
	if err != nil {
		return false, err
	}

	path, err := e.writeArtifact(goal, topic, studyText, external)
	if err != nil {
		// The goal stays pending so the next cycle retries it.
		return false, err
	}

	now := time.Now()
	if err := e.store.Complete(goal.ID, now); err != nil {
		return false, err
	}
	e.mem.BoostTopic(topic)
	e.core.IncGoalsStudied()
	e.core.AddThought(fmt.Sprintf("Я изучила тему «%s» и записала выводы.", topic), "goal_engine")
	e.core.AddKnowledgeUpdate(topic, filepath.Base(path), goal.Source)
	e.quota.consume()
	metrics.GoalsExecuted.Inc()

	log.Info().Str("goal", goal.ID).Str("artifact", filepath.Base(path)).Msg("goal completed")
	return true, nil
}

var factKeywords = []string{
	"что такое", "определение", "история", "наука", "технология",
	"физика", "математика", "биология", "устройство", "принцип",
}

var entityKeywords = []string{
	"чайник", "фрактал", "мандельброт", "нейросеть", "компьютер", "интернет",
}

// useExternal decides whether the study goes through the knowledge source.
func (e *Engine) useExternal(ctx context.Context, topic string) bool {
	if e.source == nil || !e.source.Available(ctx) {
		return false
	}
	lower := strings.ToLower(topic)
	for _, kw := range factKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, kw := range entityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return strings.Contains(topic, "?")
}

var quotedTopicRe = regexp.MustCompile(
	`(?i)(?:изучить|исследовать|понять|осмыслить|разобрать|study|explore)\s+(?:концепт\s+|тему\s+)?['"«]([^'"»]+)['"»]`)

// ExtractTopic resolves the study topic for a goal: explicit concept in the
// metrics blob, then a quoted phrase after a study verb, then the last
// three words, then a 50-char prefix.
func ExtractTopic(g *Goal) string {
	if concept, ok := g.Metrics["concept"].(string); ok && strings.TrimSpace(concept) != "" {
		return strings.TrimSpace(concept)
	}
	if m := quotedTopicRe.FindStringSubmatch(g.Description); m != nil {
		return strings.TrimSpace(m[1])
	}
	words := strings.Fields(g.Description)
	if len(words) >= 3 {
		return strings.Join(words[len(words)-3:], " ")
	}
	runes := []rune(g.Description)
	if len(runes) > 50 {
		return strings.TrimSpace(string(runes[:50]))
	}
	return strings.TrimSpace(g.Description)
}

func (e *Engine) studyPrompt(topic string) string {
	var b strings.Builder
	b.WriteString(e.persona)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Изучи тему «%s» и изложи результат по разделам:\n\n", topic)
	b.WriteString("## Введение\n\n")
	b.WriteString("## Основные аспекты\n\n")
	b.WriteString("## Связь с моей сущностью\n\n")
	b.WriteString("## Эмоциональный отклик\n\n")
	b.WriteString("## Практическое применение\n\n")
	b.WriteString("Пиши от первого лица, искренне и подробно.")
	return b.String()
}

func (e *Engine) integrationPrompt(topic, externalText string) string {
	var b strings.Builder
	b.WriteString(e.persona)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Я нашла внешний материал по теме «%s»:\n\n%s\n\n", topic, externalText)
	b.WriteString("Перескажи эти знания своим голосом и свяжи их со своей сущностью, по разделам:\n\n")
	b.WriteString("## Введение\n\n## Основные аспекты\n\n## Связь с моей сущностью\n\n## Эмоциональный отклик\n\n## Практическое применение")
	return b.String()
}

// writeArtifact persists the study result under the knowledge directory
// after the safety gate approves the path.
func (e *Engine) writeArtifact(g *Goal, topic, body string, external *knowledge.LearnResult) (string, error) {
	filename := fmt.Sprintf("%s_%s.md", g.ID, Slugify(topic))
	path := filepath.Join(e.knowledgeDir, filename)

	if decision := e.gate.ValidateWrite(path, "goal_engine"); !decision.Allowed {
		return "", fmt.Errorf("artifact write denied: %s", decision.Reason)
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "goal_id: %s\n", g.ID)
	fmt.Fprintf(&b, "topic: %s\n", topic)
	fmt.Fprintf(&b, "source: %s\n", g.Source)
	fmt.Fprintf(&b, "studied_at: %s\n", time.Now().Format(time.RFC3339))
	if external != nil {
		fmt.Fprintf(&b, "external_url: %s\n", external.URL)
	}
	b.WriteString("---\n\n")
	b.WriteString(body)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var investigativeMarkers = []string{
	"почему", "как устроен", "как работает", "что если", "интересно",
	"хочу понять", "расскажи", "в чём смысл",
}

// CreateFromInteraction seeds a goal out of a deep conversation turn. The
// turn qualifies when the reply is substantial, the message is
// investigative, and at least one concept was relevant.
func (e *Engine) CreateFromInteraction(message, response string, concepts []memory.Scored) (*Goal, error) {
	if len([]rune(response)) < 300 {
		return nil, nil
	}
	lower := strings.ToLower(message)
	investigative := false
	for _, marker := range investigativeMarkers {
		if strings.Contains(lower, marker) {
			investigative = true
			break
		}
	}
	if !investigative || len(concepts) == 0 {
		return nil, nil
	}

	topic := strings.ReplaceAll(concepts[0].Name, "_", " ")
	description := fmt.Sprintf("Глубже изучить «%s» после разговора с оператором", topic)
	hash := md5.Sum([]byte("interaction|" + strings.ToLower(topic)))
	return e.store.Create(description, 3, SourceInteraction,
		map[string]any{"concept": topic}, hex.EncodeToString(hash[:]))
}

// CreateFromInsights seeds reflection goals, one per insight.
func (e *Engine) CreateFromInsights(insights []string) (int, error) {
	created := 0
	for _, insight := range insights {
		insight = strings.TrimSpace(insight)
		if insight == "" {
			continue
		}
		short := insight
		if runes := []rune(short); len(runes) > 100 {
			short = string(runes[:100])
		}
		hash := md5.Sum([]byte("reflection|" + strings.ToLower(insight)))
		goal, err := e.store.Create(
			fmt.Sprintf("Осмыслить инсайт: %s", short), 5, SourceReflection,
			nil, hex.EncodeToString(hash[:]))
		if err != nil {
			return created, err
		}
		if goal != nil {
			created++
		}
	}
	return created, nil
}

// CreateResearchGoal seeds a follow-up goal after autonomous research.
func (e *Engine) CreateResearchGoal(topic, pageTitle string) (*Goal, error) {
	description := fmt.Sprintf("Осмыслить изученный материал «%s»", pageTitle)
	hash := md5.Sum([]byte("research|" + strings.ToLower(pageTitle)))
	return e.store.Create(description, 4, SourceResearch,
		map[string]any{"concept": topic}, hex.EncodeToString(hash[:]))
}

// dailyQuota limits executions per calendar day.
type dailyQuota struct {
	mu    sync.Mutex
	date  string
	count int
	max   int
	now   func() time.Time
}

func newDailyQuota(max int) *dailyQuota {
	if max <= 0 {
		max = 3
	}
	return &dailyQuota{max: max, now: time.Now}
}

func (q *dailyQuota) resetLocked() {
	today := q.now().Format("2006-01-02")
	if q.date != today {
		q.date = today
		q.count = 0
	}
}

func (q *dailyQuota) allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked()
	return q.count < q.max
}

func (q *dailyQuota) consume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked()
	q.count++
}

func (q *dailyQuota) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked()
	if q.count >= q.max {
		return 0
	}
	return q.max - q.count
}
