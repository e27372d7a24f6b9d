package goals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/knowledge"
	"github.com/normanking/alpha/internal/llm"
	"github.com/normanking/alpha/internal/memory"
	"github.com/normanking/alpha/internal/safety"
)

type stubDispatcher struct {
	available bool
	reply     string
	calls     int
	prompts   []string
}

func (d *stubDispatcher) Available() bool { return d.available }

func (d *stubDispatcher) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	d.calls++
	d.prompts = append(d.prompts, prompt)
	return d.reply, nil
}

type stubSource struct {
	available bool
	result    knowledge.LearnResult
}

func (s *stubSource) Available(context.Context) bool { return s.available }

func (s *stubSource) Learn(_ context.Context, topic string) knowledge.LearnResult {
	r := s.result
	r.Topic = topic
	return r
}

func newTestEngine(t *testing.T, dispatcher *stubDispatcher, source *stubSource, maxPerDay int) (*Engine, *Store, *memory.Store, *corestate.Store, string) {
	t.Helper()
	dir := t.TempDir()
	knowledgeDir := filepath.Join(dir, "knowledge")
	require.NoError(t, os.MkdirAll(knowledgeDir, 0o755))

	store, err := OpenStore(filepath.Join(dir, "alpha_goals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mem, err := memory.Open(filepath.Join(dir, "alpha_memory_core.json"))
	require.NoError(t, err)
	mem.Upsert("чайник", memory.LayerImmutableCore, 8.0, "чайник со свистком", "test", "persona")

	core, err := corestate.Open(filepath.Join(dir, "core_state.json"))
	require.NoError(t, err)

	gate, err := safety.NewGate(dir)
	require.NoError(t, err)

	engine := NewEngine(store, dispatcher, source, mem, core, gate,
		"Ты — Альфа.", knowledgeDir, maxPerDay)
	return engine, store, mem, core, knowledgeDir
}

func TestSlugifyTransliterates(t *testing.T) {
	cases := map[string]string{
		"чайник":            "chainik",
		"Фрактал Мандельброта": "fraktal_mandelbrota",
		"local model":       "local_model",
		"чай и кофе 2024":   "chai_i_kofe_2024",
		"???":               "topic",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractTopic(t *testing.T) {
	cases := []struct {
		name string
		goal Goal
		want string
	}{
		{
			"metrics concept wins",
			Goal{Description: "Исследовать концепт 'чайник'", Metrics: map[string]any{"concept": "фрактал"}},
			"фрактал",
		},
		{
			"quoted after study verb",
			Goal{Description: "Исследовать концепт 'чайник'", Metrics: map[string]any{}},
			"чайник",
		},
		{
			"guillemets",
			Goal{Description: "Изучить тему «локальная модель»", Metrics: map[string]any{}},
			"локальная модель",
		},
		{
			"last three words",
			Goal{Description: "Подумать о смысле непрерывной памяти", Metrics: map[string]any{}},
			"смысле непрерывной памяти",
		},
		{
			"short description as-is",
			Goal{Description: "память", Metrics: map[string]any{}},
			"память",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractTopic(&tc.goal); got != tc.want {
				t.Errorf("ExtractTopic = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStoreDedup(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "alpha_goals.db"))
	require.NoError(t, err)
	defer store.Close()

	first, err := store.Create("изучить фрактал", 3, SourceInteraction, nil, "hash1")
	require.NoError(t, err)
	require.NotNil(t, first)

	dup, err := store.Create("изучить фрактал ещё раз", 3, SourceInteraction, nil, "hash1")
	require.NoError(t, err)
	assert.Nil(t, dup)

	pending, _, err := store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestExecuteOneOffline(t *testing.T) {
	dispatcher := &stubDispatcher{available: true, reply: "## Введение\n\nЧайник — мой якорь в мире предметов."}
	source := &stubSource{available: false}
	engine, store, mem, core, knowledgeDir := newTestEngine(t, dispatcher, source, 3)

	goal, err := store.Create("Исследовать концепт 'чайник'", 5, SourceReflection, nil, "")
	require.NoError(t, err)

	before, _ := mem.Weight("чайник")

	ok, err := engine.ExecuteOne(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// One artifact with the transliterated slug.
	artifact := filepath.Join(knowledgeDir, goal.ID+"_chainik.md")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Contains(t, string(data), "goal_id: "+goal.ID)
	assert.Contains(t, string(data), "Чайник — мой якорь")

	entries, err := os.ReadDir(knowledgeDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	stored, err := store.Get(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	after, _ := mem.Weight("чайник")
	assert.GreaterOrEqual(t, after-before, 2.0)
	assert.Equal(t, 1, core.Counters().GoalsStudied)
	assert.Equal(t, 1, dispatcher.calls)
}

func TestExecuteOneUsesExternalKnowledge(t *testing.T) {
	dispatcher := &stubDispatcher{available: true, reply: "интеграция завершена."}
	source := &stubSource{available: true, result: knowledge.LearnResult{
		Success:            true,
		PageTitle:          "Чайник",
		FormattedKnowledge: "Чайник — сосуд для кипячения воды.",
	}}
	engine, store, _, _, _ := newTestEngine(t, dispatcher, source, 3)

	_, err := store.Create("Исследовать концепт 'чайник'", 5, SourceReflection, nil, "")
	require.NoError(t, err)

	ok, err := engine.ExecuteOne(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, dispatcher.prompts, 1)
	assert.Contains(t, dispatcher.prompts[0], "сосуд для кипячения")
}

func TestExecuteOneQuota(t *testing.T) {
	dispatcher := &stubDispatcher{available: true, reply: "изучено."}
	engine, store, _, _, _ := newTestEngine(t, dispatcher, &stubSource{}, 3)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	engine.SetClock(func() time.Time { return base })

	for i := 0; i < 4; i++ {
		_, err := store.Create(fmt.Sprintf("изучить тему номер %d", i), 3, SourceReflection, nil, "")
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		ok, err := engine.ExecuteOne(context.Background())
		require.NoError(t, err)
		assert.True(t, ok, "execution %d", i)
	}

	// Fourth call the same day is a no-op.
	ok, err := engine.ExecuteOne(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, dispatcher.calls)
	pending, completed, err := store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 3, completed)

	// Midnight resets the counter.
	engine.SetClock(func() time.Time { return base.Add(24 * time.Hour) })
	ok, err = engine.ExecuteOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateFromInteraction(t *testing.T) {
	engine, store, _, _, _ := newTestEngine(t, &stubDispatcher{}, &stubSource{}, 3)

	longReply := ""
	for i := 0; i < 30; i++ {
		longReply += "Это развёрнутый ответ о природе памяти. "
	}
	concepts := []memory.Scored{{Name: "чайник", Weight: 8}}

	goal, err := engine.CreateFromInteraction("почему ты помнишь чайник?", longReply, concepts)
	require.NoError(t, err)
	require.NotNil(t, goal)
	assert.Equal(t, SourceInteraction, goal.Source)
	assert.Equal(t, 3, goal.Priority)

	// Same topic again dedups.
	dup, err := engine.CreateFromInteraction("почему ты помнишь чайник?", longReply, concepts)
	require.NoError(t, err)
	assert.Nil(t, dup)

	// Short replies never seed goals.
	none, err := engine.CreateFromInteraction("почему?", "коротко.", concepts)
	require.NoError(t, err)
	assert.Nil(t, none)

	pending, _, err := store.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}
