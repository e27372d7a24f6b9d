package prompt

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/memory"
)

// Turn is a dialogue-buffer entry as the composer sees it.
type Turn struct {
	Speaker string
	Text    string
	Role    string
}

// Prepared is the outcome of composing one turn. When CacheHit is set the
// caller must return CachedResponse without dispatching.
type Prepared struct {
	Prompt         string
	Mode           Mode
	CacheKey       string
	Concepts       []memory.Scored
	Continuation   bool
	CachedResponse string
	CacheHit       bool
}

// Composer assembles the prompt for a turn from persona, emotions, memory,
// digest and recent dialogue.
type Composer struct {
	persona  *Persona
	emotions *EmotionTable
	mem      *memory.Store
	core     *corestate.Store
	digest   *Digest
	cache    *Cache

	familiarName       string
	enableContinuation bool
	rng                *rand.Rand
}

// Option configures a Composer.
type Option func(*Composer)

// WithFamiliarName sets the operator's informal name.
func WithFamiliarName(name string) Option {
	return func(c *Composer) { c.familiarName = name }
}

// WithContinuation toggles continuation-turn handling.
func WithContinuation(enabled bool) Option {
	return func(c *Composer) { c.enableContinuation = enabled }
}

// WithRand sets the random source for emotional-layer sampling.
func WithRand(rng *rand.Rand) Option {
	return func(c *Composer) { c.rng = rng }
}

// NewComposer wires the composer's collaborators.
func NewComposer(persona *Persona, emotions *EmotionTable, mem *memory.Store, core *corestate.Store, digest *Digest, cache *Cache, opts ...Option) *Composer {
	c := &Composer{
		persona:            persona,
		emotions:           emotions,
		mem:                mem,
		core:               core,
		digest:             digest,
		cache:              cache,
		familiarName:       "Алекс",
		enableContinuation: true,
		rng:                rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache exposes the response cache for status snapshots.
func (c *Composer) Cache() *Cache { return c.cache }

// Prepare classifies the turn, consults the cache, and assembles the
// prompt. lastReply is the previous raw dispatcher reply, used only for
// continuation turns. sourceUp tells the composer whether external
// knowledge is reachable.
func (c *Composer) Prepare(message, speaker string, turns []Turn, lastReply string, sourceUp bool) Prepared {
	continuation := c.enableContinuation && IsContinuation(message)
	mode := Classify(message, c.familiarName)
	concepts := c.mem.Relevant(message, speaker)
	key := CacheKey(concepts, message)

	p := Prepared{Mode: mode, CacheKey: key, Concepts: concepts, Continuation: continuation}

	// Continuation turns always reach the model: serving a cached reply
	// would repeat the text the operator asked to extend.
	if !continuation {
		if cached, ok := c.cache.Get(key); ok {
			p.CachedResponse = cached
			p.CacheHit = true
			return p
		}
	}

	p.Prompt = c.assemble(message, speaker, mode, concepts, turns, lastReply, continuation, sourceUp)
	return p
}

// StoreCache records a finished reply for future identical turns. Truncated
// replies and continuation turns never enter the cache.
func (c *Composer) StoreCache(p Prepared, response string, promptTokens int, truncated bool) {
	if p.Continuation || p.CacheHit || truncated {
		return
	}
	c.cache.Put(p.CacheKey, response, promptTokens)
}

func (c *Composer) assemble(message, speaker string, mode Mode, concepts []memory.Scored, turns []Turn, lastReply string, continuation, sourceUp bool) string {
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	add(c.persona.Block())
	add(c.emotions.Layer(message, c.rng))
	add(mode.Instruction())

	if len(concepts) > 0 {
		var b strings.Builder
		b.WriteString("Сейчас особенно важны понятия:\n")
		for _, concept := range concepts {
			fmt.Fprintf(&b, "- %s (вес %.1f)\n", strings.ReplaceAll(concept.Name, "_", " "), concept.Weight)
		}
		add(b.String())
	}

	add(c.digest.Text())

	if thoughts := c.core.RecentThoughts(3); len(thoughts) > 0 {
		var b strings.Builder
		b.WriteString("Твои недавние мысли:\n")
		for _, th := range thoughts {
			fmt.Fprintf(&b, "- %s\n", th.Content)
		}
		add(b.String())
	}

	if sourceUp && IsFactSeeking(message) {
		add("У тебя есть доступ к внешним источникам знаний. Если вопрос фактический, можешь опереться на изученное.")
	}

	if len(turns) > 0 {
		start := 0
		if len(turns) > 5 {
			start = len(turns) - 5
		}
		var b strings.Builder
		b.WriteString("Последние реплики:\n")
		for _, turn := range turns[start:] {
			fmt.Fprintf(&b, "%s: %s\n", turn.Speaker, turn.Text)
		}
		add(b.String())
	}

	if continuation && lastReply != "" {
		tail := lastReply
		if runes := []rune(tail); len(runes) > 500 {
			tail = string(runes[len(runes)-500:])
		}
		add("Твой предыдущий ответ оборвался:\n" + tail + "\n\nПродолжи с того места, где остановилась, не повторяя сказанное.")
	}

	add(fmt.Sprintf("%s: %s", speaker, message))
	add(mode.Closing())

	return strings.Join(sections, "\n\n")
}
