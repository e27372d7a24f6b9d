package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:11434", cfg.LLM.URL)
	assert.Equal(t, 600*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 3, cfg.Autonomy.MaxGoalsPerDay)
	assert.Equal(t, 2, cfg.Autonomy.MaxInternetPerDay)
	assert.Equal(t, 50, cfg.Prompt.CacheSize)
	assert.Equal(t, 3600*time.Second, cfg.Prompt.CacheTTL())

	// The defaults were materialized for the next run.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadReadsFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
data_dir: /var/lib/alpha
llm:
  preferred_model: qwen2.5:7b
  timeout_sec: 120
autonomy:
  night_hours: "22-6"
  max_goals_per_day: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/alpha", cfg.DataDir)
	assert.Equal(t, "qwen2.5:7b", cfg.LLM.PreferredModel)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout())
	assert.Equal(t, 5, cfg.Autonomy.MaxGoalsPerDay)

	start, end, err := cfg.Autonomy.NightWindow()
	require.NoError(t, err)
	assert.Equal(t, 22, start)
	assert.Equal(t, 6, end)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://10.0.0.5:11434")
	t.Setenv("AUTONOMY_NIGHT_HOURS", "0-0")
	t.Setenv("AUTONOMOUS_INTERNET_TOPICS", "камни, реки ,обучение")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:11434", cfg.LLM.URL)
	assert.Equal(t, "0-0", cfg.Autonomy.NightHours)
	assert.Equal(t, []string{"камни", "реки", "обучение"}, cfg.Autonomy.InternetTopics)
}

func TestNightWindowParsing(t *testing.T) {
	cases := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{in: "23-8", start: 23, end: 8},
		{in: "23,8", start: 23, end: 8},
		{in: "9-17", start: 9, end: 17},
		{in: "0-0", start: 0, end: 0},
		{in: "25-3", wantErr: true},
		{in: "ночь", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		c := AutonomyConfig{NightHours: tc.in}
		start, end, err := c.NightWindow()
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.start, start, "input %q", tc.in)
		assert.Equal(t, tc.end, end, "input %q", tc.in)
	}
}

func TestLoadRejectsBadNightHours(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autonomy:\n  night_hours: \"sometime\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnsureDataDirs(t *testing.T) {
	cfg := Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "alpha")
	require.NoError(t, cfg.EnsureDataDirs())

	for _, d := range []string{cfg.KnowledgeDir(), cfg.ExperimentalDir(), cfg.BackupDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
