package prompt

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/alpha/internal/corestate"
	"github.com/normanking/alpha/internal/memory"
)

func newTestComposer(t *testing.T) (*Composer, *memory.Store, *corestate.Store, string) {
	t.Helper()
	dir := t.TempDir()

	mem, err := memory.Open(filepath.Join(dir, "alpha_memory_core.json"))
	require.NoError(t, err)
	mem.Upsert("чайник", memory.LayerImmutableCore, 8.0, "чайник со свистком", "test", "persona")
	mem.Upsert("фрактал", memory.LayerPhilosophicalConstants, 5.0, "самоподобие", "test", "persona")

	core, err := corestate.Open(filepath.Join(dir, "core_state.json"))
	require.NoError(t, err)

	persona, err := LoadPersona(filepath.Join(dir, "alpha_integrated_core_v5.json"))
	require.NoError(t, err)
	emotions, err := LoadEmotionTable(filepath.Join(dir, "emotional_context.json"))
	require.NoError(t, err)

	digestPath := filepath.Join(dir, "consolidation_summary.txt")
	digest := NewDigest(digestPath)

	cache := NewCache(50, time.Hour)
	composer := NewComposer(persona, emotions, mem, core, digest, cache,
		WithRand(rand.New(rand.NewSource(1))))
	return composer, mem, core, dir
}

func TestPrepareAssemblyOrder(t *testing.T) {
	composer, _, core, _ := newTestComposer(t)
	core.AddThought("я думала о фракталах", "reflection")

	turns := []Turn{
		{Speaker: "Operator", Text: "привет", Role: "user"},
		{Speaker: "Альфа", Text: "здравствуй", Role: "assistant"},
	}
	p := composer.Prepare("Расскажи про чайник", "Operator", turns, "", false)
	require.False(t, p.CacheHit)
	require.NotEmpty(t, p.Prompt)

	personaIdx := strings.Index(p.Prompt, "Ты — Альфа.")
	conceptIdx := strings.Index(p.Prompt, "Сейчас особенно важны понятия:")
	thoughtIdx := strings.Index(p.Prompt, "я думала о фракталах")
	bufferIdx := strings.Index(p.Prompt, "Последние реплики:")
	messageIdx := strings.Index(p.Prompt, "Operator: Расскажи про чайник")
	closingIdx := strings.LastIndex(p.Prompt, "Ответь как Альфа")

	assert.Equal(t, 0, personaIdx)
	assert.Greater(t, conceptIdx, personaIdx)
	assert.Greater(t, thoughtIdx, conceptIdx)
	assert.Greater(t, bufferIdx, thoughtIdx)
	assert.Greater(t, messageIdx, bufferIdx)
	assert.Greater(t, closingIdx, messageIdx)
}

func TestPrepareModeClassification(t *testing.T) {
	composer, _, _, _ := newTestComposer(t)

	assert.Equal(t, ModePlain, composer.Prepare("привет", "Operator", nil, "", false).Mode)
	assert.Equal(t, ModeSimple, composer.Prepare("объясни проще", "Operator", nil, "", false).Mode)
	assert.Equal(t, ModeFamiliar, composer.Prepare("Алекс вернулся", "Operator", nil, "", false).Mode)
	assert.Equal(t, ModeMigration, composer.Prepare("как идёт миграция", "Operator", nil, "", false).Mode)
}

func TestCacheRoundTrip(t *testing.T) {
	composer, _, _, _ := newTestComposer(t)

	first := composer.Prepare("Что такое фрактал?", "Operator", nil, "", false)
	require.False(t, first.CacheHit)
	composer.StoreCache(first, "фрактал — это самоподобие.", 120, false)

	second := composer.Prepare("Что такое фрактал?", "Operator", nil, "", false)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "фрактал — это самоподобие.", second.CachedResponse)
	assert.Equal(t, 1, composer.Cache().Hits())
}

func TestContinuationSkipsCache(t *testing.T) {
	composer, _, _, _ := newTestComposer(t)

	first := composer.Prepare("продолжи", "Operator", nil, "Длинный ответ о фракталах", false)
	require.False(t, first.CacheHit)
	assert.True(t, first.Continuation)
	assert.Contains(t, first.Prompt, "Длинный ответ")
	assert.Contains(t, first.Prompt, "Продолжи")

	// A continuation reply never lands in the cache.
	composer.StoreCache(first, "и далее", 10, false)
	again := composer.Prepare("продолжи", "Operator", nil, "Длинный ответ о фракталах", false)
	assert.False(t, again.CacheHit)
}

func TestTruncatedReplyNotCached(t *testing.T) {
	composer, _, _, _ := newTestComposer(t)

	first := composer.Prepare("Что такое чайник?", "Operator", nil, "", false)
	composer.StoreCache(first, "обрыв", 10, true)
	second := composer.Prepare("Что такое чайник?", "Operator", nil, "", false)
	assert.False(t, second.CacheHit)
}

func TestDigestInjection(t *testing.T) {
	composer, _, _, dir := newTestComposer(t)
	digestPath := filepath.Join(dir, "consolidation_summary.txt")

	require.NoError(t, os.WriteFile(digestPath, []byte("Я поняла, что чайник — это символ миграции."), 0o644))
	composer.digest.Reload()

	prep := composer.Prepare("привет", "Operator", nil, "", false)
	assert.Contains(t, prep.Prompt, "Я поняла, что чайник — это символ миграции.")

	require.NoError(t, os.WriteFile(digestPath, []byte("нет новых данных"), 0o644))
	composer.digest.Reload()
	prep = composer.Prepare("привет", "Operator", nil, "", false)
	assert.NotContains(t, prep.Prompt, "нет новых данных")
}

func TestFactSeekingNoticeRequiresSourceUp(t *testing.T) {
	composer, _, _, _ := newTestComposer(t)

	withSource := composer.Prepare("Что такое гравитация?", "Operator", nil, "", true)
	assert.Contains(t, withSource.Prompt, "внешним источникам")

	withoutSource := composer.Prepare("Что такое гравитация?", "Operator", nil, "", false)
	assert.NotContains(t, withoutSource.Prompt, "внешним источникам")
}

func TestCacheEntryExpires(t *testing.T) {
	cache := NewCache(50, time.Hour)
	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Put("k", "ответ", 10)

	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestCacheEvictsOldest(t *testing.T) {
	cache := NewCache(2, time.Hour)
	base := time.Now()
	step := 0
	cache.now = func() time.Time { step++; return base.Add(time.Duration(step) * time.Second) }

	cache.Put("a", "1", 0)
	cache.Put("b", "2", 0)
	cache.Put("c", "3", 0)

	_, hasA := cache.Get("a")
	_, hasB := cache.Get("b")
	_, hasC := cache.Get("c")
	assert.False(t, hasA)
	assert.True(t, hasB)
	assert.True(t, hasC)
}
