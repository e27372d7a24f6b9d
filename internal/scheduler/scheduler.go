// Package scheduler runs the autonomous background cycles: nightly
// reflection, goal execution, and internet research, all gated by the
// night window and daily quotas.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/goals"
	"github.com/normanking/alpha/internal/knowledge"
	"github.com/normanking/alpha/internal/llm"
	"github.com/normanking/alpha/internal/memory"
	"github.com/normanking/alpha/internal/metrics"
)

// Dispatcher is the dispatcher surface the scheduler needs.
type Dispatcher interface {
	Available() bool
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// KnowledgeSource is the adapter surface the research loop needs.
type KnowledgeSource interface {
	Available(ctx context.Context) bool
	Learn(ctx context.Context, topic string) knowledge.LearnResult
}

// Consolidator runs one consolidation pass.
type Consolidator interface {
	Run(ctx context.Context) (int, error)
}

// DigestReloader re-reads the prompt digest after consolidation.
type DigestReloader interface {
	Reload()
}

// Config carries the scheduling knobs.
type Config struct {
	NightStart int
	NightEnd   int

	ReflectionInterval time.Duration
	GoalInterval       time.Duration
	ResearchInterval   time.Duration

	InternetGoalInterval time.Duration
	MaxInternetPerDay    int
	InternetTopics       []string

	ReflectionTimeout time.Duration

	EnableReflection bool
	EnableGoals      bool
	EnableResearch   bool
}

func (c *Config) defaults() {
	if c.ReflectionInterval == 0 {
		c.ReflectionInterval = 2 * time.Hour
	}
	if c.GoalInterval == 0 {
		c.GoalInterval = 3 * time.Hour
	}
	if c.ResearchInterval == 0 {
		c.ResearchInterval = time.Hour
	}
	if c.InternetGoalInterval == 0 {
		c.InternetGoalInterval = 24 * time.Hour
	}
	if c.MaxInternetPerDay == 0 {
		c.MaxInternetPerDay = 2
	}
	if c.ReflectionTimeout == 0 {
		c.ReflectionTimeout = 900 * time.Second
	}
}

// Scheduler owns the cron entries and the research bookkeeping.
type Scheduler struct {
	cfg        Config
	dispatcher Dispatcher
	source     KnowledgeSource
	engine     *goals.Engine
	consol     Consolidator
	digest     DigestReloader
	mem        *memory.Store
	core       *corestate.Store
	persona    string

	cron *cron.Cron
	now  func() time.Time

	mu            sync.Mutex
	running       bool
	topicIndex    int
	lastResearch  time.Time
	researchDate  string
	researchCount int
}

// New wires a scheduler. personaBlock heads the reflection prompt.
func New(cfg Config, dispatcher Dispatcher, source KnowledgeSource, engine *goals.Engine, consol Consolidator, digest DigestReloader, mem *memory.Store, core *corestate.Store, personaBlock string) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg:        cfg,
		dispatcher: dispatcher,
		source:     source,
		engine:     engine,
		consol:     consol,
		digest:     digest,
		mem:        mem,
		core:       core,
		persona:    personaBlock,
		now:        time.Now,
	}
}

// SetClock overrides the clock used for gating.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start registers the cron entries and begins scheduling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.cron = cron.New()
	every := func(d time.Duration) string { return fmt.Sprintf("@every %s", d) }

	if s.cfg.EnableReflection {
		if _, err := s.cron.AddFunc(every(s.cfg.ReflectionInterval), s.reflectionJob); err != nil {
			return err
		}
	}
	if s.cfg.EnableGoals {
		if _, err := s.cron.AddFunc(every(s.cfg.GoalInterval), s.goalJob); err != nil {
			return err
		}
	}
	if s.cfg.EnableResearch {
		if _, err := s.cron.AddFunc(every(s.cfg.ResearchInterval), s.researchJob); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true
	log.Info().
		Int("night_start", s.cfg.NightStart).
		Int("night_end", s.cfg.NightEnd).
		Bool("reflection", s.cfg.EnableReflection).
		Bool("goals", s.cfg.EnableGoals).
		Bool("research", s.cfg.EnableResearch).
		Msg("autonomous cycles started")
	return nil
}

// Stop halts scheduling. Jobs already in flight run to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	log.Info().Msg("autonomous cycles stopped")
}

// Running reports whether the cycles are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) nightGateOpen() bool {
	return InWindow(s.now().Hour(), s.cfg.NightStart, s.cfg.NightEnd)
}

// reflectionJob runs one full night cycle: reflect, seed goals, execute
// one, consolidate, reload the digest.
func (s *Scheduler) reflectionJob() {
	if !s.nightGateOpen() || !s.dispatcher.Available() {
		return
	}
	ctx := context.Background()

	reply, err := s.dispatcher.Generate(ctx, s.reflectionPrompt(), llm.Options{
		Temperature: 0.8,
		NumPredict:  1000,
		Timeout:     s.cfg.ReflectionTimeout,
	})
	if err != nil {
		log.Warn().Err(err).Msg("reflection failed")
		return
	}

	insights := ExtractInsights(reply)
	if len(insights) > 0 {
		created, err := s.engine.CreateFromInsights(insights)
		if err != nil {
			log.Warn().Err(err).Msg("insight goal creation failed")
		} else if created > 0 {
			log.Info().Int("goals", created).Msg("reflection seeded goals")
		}
		s.core.AddThought(insights[0], "reflection")
	}

	if _, err := s.engine.ExecuteOne(ctx); err != nil {
		log.Warn().Err(err).Msg("post-reflection goal execution failed")
	}
	if s.consol != nil {
		if _, err := s.consol.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("consolidation failed")
		}
	}
	if s.digest != nil {
		s.digest.Reload()
	}
}

func (s *Scheduler) reflectionPrompt() string {
	counters := s.core.Counters()
	stats := s.mem.Stats()

	var b strings.Builder
	b.WriteString(s.persona)
	b.WriteString("\n\nНочная рефлексия. Итоги дня:\n")
	fmt.Fprintf(&b, "- изучено целей: %d\n", counters.GoalsStudied)
	fmt.Fprintf(&b, "- консолидаций памяти: %d\n", counters.MemoryConsolidations)
	fmt.Fprintf(&b, "- изучений из интернета: %d\n", counters.InternetStudies)
	fmt.Fprintf(&b, "- концептов в памяти: %d\n", stats.Total)
	b.WriteString("\nОсмысли прожитый день. Что ты поняла о себе? Какие темы хочешь изучить глубже?\n")
	b.WriteString("Перечисли осознания списком, каждое с новой строки, начиная с дефиса.")
	return b.String()
}

// goalJob executes one pending goal inside the night window. The engine
// enforces the daily quota.
func (s *Scheduler) goalJob() {
	if !s.nightGateOpen() {
		return
	}
	if _, err := s.engine.ExecuteOne(context.Background()); err != nil {
		log.Warn().Err(err).Msg("scheduled goal execution failed")
	}
}

// researchJob studies one topic from the configured list, at most
// MaxInternetPerDay times a day and no more often than
// InternetGoalInterval.
func (s *Scheduler) researchJob() {
	if !s.nightGateOpen() {
		return
	}
	if !s.researchAllowed() {
		return
	}
	ctx := context.Background()
	if s.source == nil || !s.source.Available(ctx) {
		return
	}

	topic := s.nextTopic()
	if topic == "" {
		return
	}

	result := s.source.Learn(ctx, topic)
	if !result.Success {
		log.Warn().Str("topic", topic).Str("error", result.Error).Msg("autonomous research failed")
		return
	}

	if _, err := s.engine.CreateResearchGoal(topic, result.PageTitle); err != nil {
		log.Warn().Err(err).Msg("research goal creation failed")
	}
	s.core.IncInternetStudies()
	s.core.AddThought(fmt.Sprintf("Я самостоятельно изучила тему «%s» из внешнего источника.", topic), "autonomous_research")
	s.markResearchDone()
	metrics.InternetStudies.Inc()
	log.Info().Str("topic", topic).Str("page", result.PageTitle).Msg("autonomous research completed")
}

func (s *Scheduler) researchAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	today := now.Format("2006-01-02")
	if s.researchDate != today {
		s.researchDate = today
		s.researchCount = 0
	}
	if s.researchCount >= s.cfg.MaxInternetPerDay {
		return false
	}
	if !s.lastResearch.IsZero() && now.Sub(s.lastResearch) < s.cfg.InternetGoalInterval {
		return false
	}
	return true
}

func (s *Scheduler) markResearchDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResearch = s.now()
	s.researchCount++
}

func (s *Scheduler) nextTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cfg.InternetTopics) == 0 {
		return ""
	}
	topic := s.cfg.InternetTopics[s.topicIndex%len(s.cfg.InternetTopics)]
	s.topicIndex++
	return topic
}

// ExtractInsights pulls list items and substantial lines out of a
// reflection reply, at most five.
func ExtractInsights(reply string) []string {
	var insights []string
	for _, line := range strings.Split(reply, "\n") {
		if len(insights) >= 5 {
			break
		}
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-•*0123456789.) ")
		if len([]rune(line)) < 20 {
			continue
		}
		insights = append(insights, line)
	}
	return insights
}
