// Package runtime wires every subsystem together and exposes the operator
// surface: ProcessMessage, SearchExternal, Status, Shutdown.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/normanking/alpha/internal/config"
	"github.com/normanking/alpha/internal/consolidate"
	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/fault"
	"github.com/normanking/alpha/internal/goals"
	"github.com/normanking/alpha/internal/knowledge"
	"github.com/normanking/alpha/internal/llm"
	"github.com/normanking/alpha/internal/memory"
	"github.com/normanking/alpha/internal/prompt"
	"github.com/normanking/alpha/internal/safety"
	"github.com/normanking/alpha/internal/scheduler"
)

const timeoutReply = "[TIMEOUT] ответ не успел прийти вовремя. Попробуй спросить ещё раз."

// Runtime owns all subsystems. One foreground turn runs at a time.
type Runtime struct {
	cfg        *config.Config
	gate       *safety.Gate
	mem        *memory.Store
	core       *corestate.Store
	dispatcher *llm.Dispatcher
	source     *knowledge.Source
	persona    *prompt.Persona
	composer   *prompt.Composer
	digest     *prompt.Digest
	goalStore  *goals.Store
	engine     *goals.Engine
	consol     *consolidate.Consolidator
	sched      *scheduler.Scheduler
	buffer     *DialogueBuffer

	mu       sync.Mutex
	sourceUp bool
}

// New wires the whole runtime from configuration. The LLM endpoint being
// down is not an error: turns fall back to canned replies until a probe
// succeeds.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}

	gate, err := safety.NewGate(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	mem, err := memory.Open(filepath.Join(cfg.DataDir, "alpha_memory_core.json"))
	if err != nil {
		return nil, err
	}
	core, err := corestate.Open(filepath.Join(cfg.DataDir, "core_state.json"))
	if err != nil {
		return nil, err
	}

	persona, err := prompt.LoadPersona(filepath.Join(cfg.DataDir, "alpha_integrated_core_v5.json"))
	if err != nil {
		return nil, err
	}
	emotions, err := prompt.LoadEmotionTable(filepath.Join(cfg.DataDir, "emotional_context.json"))
	if err != nil {
		return nil, err
	}

	// Boot-time mining keeps the persona's symbols at the top layers.
	mined := mem.Mine(persona.MineSeeds())
	mined += mem.Mine(memory.SeedsFromStrings(
		emotions.MigrationPrinciples, memory.LayerPhilosophicalConstants, "emotional_context"))
	if mined > 0 {
		log.Info().Int("concepts", mined).Msg("memory mined from persona")
	}

	dispatcher := llm.New(llm.Config{
		URL:            cfg.LLM.URL,
		PreferredModel: cfg.LLM.PreferredModel,
		FallbackModel:  cfg.LLM.FallbackModel,
		Timeout:        cfg.LLM.Timeout(),
		MaxRetries:     cfg.LLM.MaxRetries,
		BaseDelay:      cfg.LLM.BaseDelay(),
		NumPredict:     cfg.LLM.NumPredict,
		Temperature:    cfg.LLM.Temperature,
		RepeatPenalty:  cfg.LLM.RepeatPenalty,
		TopK:           cfg.LLM.TopK,
		TopP:           cfg.LLM.TopP,
	})
	if err := dispatcher.Probe(ctx); err != nil {
		log.Warn().Err(err).Msg("llm endpoint unavailable, falling back to canned replies")
	} else if cfg.LLM.WarmupOnStart {
		if err := dispatcher.Warmup(ctx); err != nil {
			log.Warn().Err(err).Msg("model warmup failed")
		}
	}

	source := knowledge.NewSource(knowledge.Config{
		BaseURL:      cfg.Knowledge.BaseURL,
		MaxResults:   cfg.Knowledge.MaxResults,
		Timeout:      cfg.Knowledge.Timeout(),
		CacheEntries: cfg.Knowledge.CacheEntries,
		CachePath:    filepath.Join(cfg.DataDir, "internet_knowledge_cache.json"),
		RequestsLog:  filepath.Join(cfg.DataDir, "internet_requests_log.json"),
	})

	digest := prompt.NewDigest(filepath.Join(cfg.DataDir, "consolidation_summary.txt"))
	if err := digest.Watch(); err != nil {
		log.Warn().Err(err).Msg("digest watch unavailable, relying on explicit reloads")
	}

	cache := prompt.NewCache(cfg.Prompt.CacheSize, cfg.Prompt.CacheTTL())
	composer := prompt.NewComposer(persona, emotions, mem, core, digest, cache,
		prompt.WithFamiliarName(cfg.Prompt.FamiliarName),
		prompt.WithContinuation(cfg.Prompt.EnableContinuation))

	goalStore, err := goals.OpenStore(filepath.Join(cfg.DataDir, "alpha_goals.db"))
	if err != nil {
		return nil, err
	}
	engine := goals.NewEngine(goalStore, dispatcher, source, mem, core, gate,
		persona.Block(), cfg.KnowledgeDir(), cfg.Autonomy.MaxGoalsPerDay)

	var consol *consolidate.Consolidator
	if cfg.Consolidation.Enabled {
		consol, err = consolidate.New(consolidate.Config{
			DBPath:       filepath.Join(cfg.DataDir, "autonomous_summary.db"),
			ArtifactsDir: cfg.KnowledgeDir(),
			PromptDigest: filepath.Join(cfg.DataDir, "consolidation_summary.txt"),
			HumanDigest:  filepath.Join(cfg.DataDir, "КОНЕЧНАЯ_СВОДКА.txt"),
			ProcessedLog: filepath.Join(cfg.DataDir, "processed_files.log"),
		}, core)
		if err != nil {
			return nil, err
		}
	}

	nightStart, nightEnd, err := cfg.Autonomy.NightWindow()
	if err != nil {
		return nil, err
	}
	var schedConsol scheduler.Consolidator
	if consol != nil {
		schedConsol = consol
	}
	sched := scheduler.New(scheduler.Config{
		NightStart:           nightStart,
		NightEnd:             nightEnd,
		GoalInterval:         cfg.Autonomy.GoalExecutionInterval(),
		InternetGoalInterval: cfg.Autonomy.InternetGoalInterval(),
		MaxInternetPerDay:    cfg.Autonomy.MaxInternetPerDay,
		InternetTopics:       cfg.Autonomy.InternetTopics,
		ReflectionTimeout:    cfg.LLM.ReflectionTimeout(),
		EnableReflection:     cfg.Autonomy.EnableReflection,
		EnableGoals:          cfg.Autonomy.EnableGoalExecution,
		EnableResearch:       cfg.Autonomy.EnableInternetResearch,
	}, dispatcher, source, engine, schedConsol, digest, mem, core, persona.Block())

	r := &Runtime{
		cfg:        cfg,
		gate:       gate,
		mem:        mem,
		core:       core,
		dispatcher: dispatcher,
		source:     source,
		persona:    persona,
		composer:   composer,
		digest:     digest,
		goalStore:  goalStore,
		engine:     engine,
		consol:     consol,
		sched:      sched,
		buffer:     newDialogueBuffer(),
	}
	r.sourceUp = source.Available(ctx)
	return r, nil
}

// StartCycles launches the autonomous background loops.
func (r *Runtime) StartCycles() error { return r.sched.Start() }

// Gate exposes the safety gate.
func (r *Runtime) Gate() *safety.Gate { return r.gate }

// Engine exposes the goal engine for administrative commands.
func (r *Runtime) Engine() *goals.Engine { return r.engine }

// Consolidator exposes the consolidator, nil when disabled.
func (r *Runtime) Consolidator() *consolidate.Consolidator { return r.consol }

// GoalStore exposes the goal table for administrative commands.
func (r *Runtime) GoalStore() *goals.Store { return r.goalStore }

// ProcessMessage handles one operator turn end to end. Turns are
// serialized: a second concurrent call waits for the first.
func (r *Runtime) ProcessMessage(ctx context.Context, text, speaker string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := r.gate.Validate("message", "", text, speaker); !d.Allowed {
		return safety.RefusalReply(d)
	}

	if !r.dispatcher.Available() {
		reply := fallbackReply(text)
		r.appendTurn(text, speaker, reply, false)
		return reply
	}

	prep := r.composer.Prepare(text, speaker, r.buffer.turns(),
		r.dispatcher.LastCompleteResponse(), r.sourceUp)
	if prep.CacheHit {
		r.appendTurn(text, speaker, prep.CachedResponse, false)
		return prep.CachedResponse
	}

	reply, err := r.dispatcher.Generate(ctx, prep.Prompt, llm.Options{})
	if err != nil {
		if fault.Is(err, fault.LLMTimeout) {
			reply = timeoutReply
		} else {
			log.Warn().Err(err).Msg("dispatch failed")
			reply = fallbackReply(text)
		}
		r.appendTurn(text, speaker, reply, false)
		return reply
	}

	if d := r.gate.Validate("response", "", reply, "alpha"); !d.Allowed {
		reply = safety.OutputRefusal(d)
		r.appendTurn(text, speaker, reply, false)
		return reply
	}

	truncated := r.dispatcher.LastTruncated()
	r.appendTurn(text, speaker, reply, truncated)
	r.composer.StoreCache(prep, reply, 0, truncated)

	names := make([]string, 0, len(prep.Concepts))
	for _, c := range prep.Concepts {
		names = append(names, c.Name)
	}
	r.mem.Reinforce(names)

	if goal, err := r.engine.CreateFromInteraction(text, reply, prep.Concepts); err != nil {
		log.Warn().Err(err).Msg("interaction goal seeding failed")
	} else if goal != nil {
		log.Info().Str("goal", goal.ID).Msg("goal seeded from interaction")
	}

	return reply
}

func (r *Runtime) appendTurn(text, speaker, reply string, truncated bool) {
	r.buffer.Append(DialogueEntry{Speaker: speaker, Text: text, Role: "user"})
	r.buffer.Append(DialogueEntry{
		Speaker: r.persona.Name, Text: reply, Role: "assistant", Truncated: truncated,
	})
}

// SearchExternal runs an operator-driven external lookup and records the
// result as a knowledge artifact.
func (r *Runtime) SearchExternal(ctx context.Context, query, speaker string) knowledge.LearnResult {
	if d := r.gate.Validate("external_search", "", query, speaker); !d.Allowed {
		return knowledge.LearnResult{Success: false, Topic: query, Error: d.Reason}
	}

	result := r.source.Learn(ctx, query)
	up := result.Success || r.source.Available(ctx)
	r.mu.Lock()
	r.sourceUp = up
	r.mu.Unlock()
	if !result.Success {
		return result
	}

	path := filepath.Join(r.cfg.KnowledgeDir(),
		fmt.Sprintf("manual_%s.md", goals.Slugify(query)))
	if d := r.gate.ValidateWrite(path, speaker); d.Allowed {
		content := fmt.Sprintf("---\ntopic: %s\nsource: manual_search\n---\n\n%s\n",
			query, result.FormattedKnowledge)
		if err := writeFile(path, content); err != nil {
			log.Warn().Err(err).Msg("manual search artifact write failed")
		} else {
			r.core.AddKnowledgeUpdate(query, filepath.Base(path), "manual_search")
		}
	}
	return result
}

// Status snapshots every subsystem for the status command.
func (r *Runtime) Status() map[string]any {
	counters := r.core.Counters()
	memStats := r.mem.Stats()
	llmStats := r.dispatcher.Statistics()
	pending, completed, _ := r.goalStore.Counts()

	return map[string]any{
		"counters": map[string]any{
			"goals_studied":         counters.GoalsStudied,
			"memory_consolidations": counters.MemoryConsolidations,
			"internet_studies":      counters.InternetStudies,
		},
		"memory": memStats,
		"llm": map[string]any{
			"available":   r.dispatcher.Available(),
			"model":       r.dispatcher.Model(),
			"total":       llmStats.Total,
			"successful":  llmStats.Successful,
			"failed":      llmStats.Failed,
			"avg_latency": llmStats.AvgLatency.String(),
			"tokens_avg":  llmStats.AvgPromptTokens,
		},
		"cache": map[string]any{
			"entries": r.composer.Cache().Len(),
			"hits":    r.composer.Cache().Hits(),
		},
		"goals": map[string]any{
			"pending":         pending,
			"completed":       completed,
			"quota_remaining": r.engine.QuotaRemaining(),
		},
		"scheduler": map[string]any{
			"running": r.sched.Running(),
		},
		"knowledge_source": r.source.Stats(),
		"dialogue_buffer":  r.buffer.Len(),
	}
}

// Shutdown stops the cycles and flushes all persistent state. Experimental
// artifacts are backed up before exit.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.sched.Stop()
	r.digest.Close()

	if dest, err := backupExperimental(r.cfg.ExperimentalDir(), r.cfg.BackupDir(), "shutdown"); err != nil {
		log.Warn().Err(err).Msg("experimental backup failed")
	} else if dest != "" {
		log.Info().Str("dir", dest).Msg("experimental artifacts backed up")
	}

	var errs []string
	if err := r.core.Flush(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := r.mem.Persist(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := r.goalStore.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if r.consol != nil {
		if err := r.consol.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	log.Info().Msg("runtime stopped")
	return nil
}
