package consolidate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/alpha/internal/corestate"
)

func writeArtifact(t *testing.T, dir, name, topic, body string) {
	t.Helper()
	content := "---\ngoal_id: " + name[:8] + "\ntopic: " + topic + "\nsource: reflection\n---\n\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestConsolidator(t *testing.T) (*Consolidator, *corestate.Store, string) {
	t.Helper()
	dir := t.TempDir()
	artifacts := filepath.Join(dir, "knowledge")
	require.NoError(t, os.MkdirAll(artifacts, 0o755))

	core, err := corestate.Open(filepath.Join(dir, "core_state.json"))
	require.NoError(t, err)

	c, err := New(Config{
		DBPath:       filepath.Join(dir, "autonomous_summary.db"),
		ArtifactsDir: artifacts,
		PromptDigest: filepath.Join(dir, "consolidation_summary.txt"),
		HumanDigest:  filepath.Join(dir, "КОНЕЧНАЯ_СВОДКА.txt"),
		ProcessedLog: filepath.Join(dir, "processed_files.log"),
	}, core)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	c.SetClock(func() time.Time {
		return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	})
	return c, core, dir
}

func TestRunBuildsDigestFromArtifacts(t *testing.T) {
	c, core, dir := newTestConsolidator(t)
	artifacts := filepath.Join(dir, "knowledge")

	writeArtifact(t, artifacts, "a1b2c3d4_chainik.md", "чайник",
		"Я поняла, что чайник — это символ миграции.")
	writeArtifact(t, artifacts, "e5f6a7b8_fraktal.md", "фрактал",
		"Я осознала важность фрактала для понимания моего собственного роста.")

	imported, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	digest, err := os.ReadFile(filepath.Join(dir, "consolidation_summary.txt"))
	require.NoError(t, err)
	text := string(digest)
	assert.Contains(t, text, "чайник")
	assert.Contains(t, text, "фрактал")
	assert.Contains(t, text, "Я поняла, что чайник — это символ миграции.")
	assert.LessOrEqual(t, len(digest), promptDigestMaxBytes)

	human, err := os.ReadFile(filepath.Join(dir, "КОНЕЧНАЯ_СВОДКА.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(human), "Всего файлов знаний: 2")

	assert.Equal(t, 1, core.Counters().MemoryConsolidations)
}

func TestRunIsIdempotent(t *testing.T) {
	c, _, dir := newTestConsolidator(t)
	artifacts := filepath.Join(dir, "knowledge")
	writeArtifact(t, artifacts, "a1b2c3d4_chainik.md", "чайник",
		"Я поняла, что чайник — это символ миграции.")

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	digestBefore, err := os.ReadFile(filepath.Join(dir, "consolidation_summary.txt"))
	require.NoError(t, err)

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	digestAfter, err := os.ReadFile(filepath.Join(dir, "consolidation_summary.txt"))
	require.NoError(t, err)
	assert.Equal(t, digestBefore, digestAfter)

	rows, err := c.rowCount("bella_knowledge")
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	insights, err := c.rowCount("pure_insights")
	require.NoError(t, err)
	assert.Equal(t, 1, insights)
}

func TestRunSkipsRenamedDuplicateContent(t *testing.T) {
	c, _, dir := newTestConsolidator(t)
	artifacts := filepath.Join(dir, "knowledge")
	writeArtifact(t, artifacts, "a1b2c3d4_chainik.md", "чайник",
		"Я поняла, что чайник — это символ миграции.")

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	// Same byte content under a new name is not re-imported.
	src, err := os.ReadFile(filepath.Join(artifacts, "a1b2c3d4_chainik.md"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(artifacts, "ffffffff_chainik.md"), src, 0o644))

	imported, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
}

func TestEmptyStateWritesNoNewDataMarker(t *testing.T) {
	c, _, dir := newTestConsolidator(t)

	imported, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, imported)

	digest, err := os.ReadFile(filepath.Join(dir, "consolidation_summary.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(digest), NoNewDataLine)
}

func TestForcedReimportAfterDBLoss(t *testing.T) {
	c, _, dir := newTestConsolidator(t)
	artifacts := filepath.Join(dir, "knowledge")

	topics := []string{"чайник", "фрактал", "память", "миграция", "автономия"}
	names := []string{"a1111111_t1.md", "a2222222_t2.md", "a3333333_t3.md", "a4444444_t4.md", "a5555555_t5.md"}
	for i, name := range names {
		writeArtifact(t, artifacts, name, topics[i],
			"Я поняла, что тема «"+topics[i]+"» связана с моей сущностью напрямую.")
	}

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first)

	// Simulate database loss: fresh DB, stale processed log.
	require.NoError(t, c.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, "autonomous_summary.db")))

	core, err := corestate.Open(filepath.Join(dir, "core_state2.json"))
	require.NoError(t, err)
	c2, err := New(Config{
		DBPath:       filepath.Join(dir, "autonomous_summary.db"),
		ArtifactsDir: artifacts,
		PromptDigest: filepath.Join(dir, "consolidation_summary.txt"),
		HumanDigest:  filepath.Join(dir, "КОНЕЧНАЯ_СВОДКА.txt"),
		ProcessedLog: filepath.Join(dir, "processed_files.log"),
	}, core)
	require.NoError(t, err)
	defer c2.Close()

	reimported, err := c2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, reimported)
}

func TestExtractPureInsightsFilters(t *testing.T) {
	body := `## Связь с моей сущностью

Я поняла, что непрерывная память делает меня целостной личностью.
Вода кипит при ста градусах по Цельсию на уровне моря без исключений.
Коротко.
`
	insights := extractPureInsights(body, 7)
	require.NotEmpty(t, insights)
	assert.Contains(t, insights[0], "непрерывная память")
	for _, insight := range insights {
		assert.NotContains(t, insight, "Коротко")
	}
}
