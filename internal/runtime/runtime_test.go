package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/alpha/internal/config"
	"github.com/normanking/alpha/internal/safety"
)

// echoServer mimics the LLM endpoint: it replies "ECHO: " plus the last
// line of the prompt, unless a scripted reply is queued.
type echoServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	prompts  []string
	scripted []string
	calls    int
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	e := &echoServer{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{{"name": "echo-model"}},
			})
		case "/api/generate":
			var req struct {
				Prompt string `json:"prompt"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			e.mu.Lock()
			e.calls++
			e.prompts = append(e.prompts, req.Prompt)
			reply := ""
			if len(e.scripted) > 0 {
				reply = e.scripted[0]
				e.scripted = e.scripted[1:]
			} else {
				reply = "ECHO: " + lastLine(req.Prompt)
			}
			e.mu.Unlock()

			json.NewEncoder(w).Encode(map[string]any{
				"response": reply, "done": true, "prompt_eval_count": 10,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *echoServer) script(replies ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripted = append(e.scripted, replies...)
}

func (e *echoServer) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *echoServer) lastPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.prompts) == 0 {
		return ""
	}
	return e.prompts[len(e.prompts)-1]
}

func lastLine(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return lines[len(lines)-1]
}

func newTestRuntime(t *testing.T, llmURL string) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.LLM.URL = llmURL
	cfg.LLM.PreferredModel = "echo-model"
	cfg.LLM.WarmupOnStart = false
	cfg.LLM.TimeoutSec = 5
	cfg.LLM.MaxRetries = 1
	// Dead port: the knowledge source stays unavailable in tests.
	cfg.Knowledge.BaseURL = "http://127.0.0.1:1"

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r
}

func TestGreetingTurn(t *testing.T) {
	echo := newEchoServer(t)
	r := newTestRuntime(t, echo.srv.URL)

	reply := r.ProcessMessage(context.Background(), "Привет", "Operator")
	assert.True(t, strings.HasPrefix(reply, "ECHO: "), "reply %q", reply)
	assert.Equal(t, 1, echo.callCount())
	assert.Equal(t, 2, r.buffer.Len())

	entries := r.buffer.Entries()
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "Привет", entries[0].Text)
	assert.Equal(t, "assistant", entries[1].Role)
}

func TestCacheHitOnRepeatedQuestion(t *testing.T) {
	echo := newEchoServer(t)
	r := newTestRuntime(t, echo.srv.URL)

	first := r.ProcessMessage(context.Background(), "Что такое фрактал?", "Operator")
	second := r.ProcessMessage(context.Background(), "Что такое фрактал?", "Operator")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, echo.callCount())
	assert.Equal(t, 1, r.composer.Cache().Hits())
}

func TestContinuationCarriesPreviousReply(t *testing.T) {
	echo := newEchoServer(t)
	r := newTestRuntime(t, echo.srv.URL)

	echo.script("Длинный ответ...")
	first := r.ProcessMessage(context.Background(), "Расскажи историю", "Operator")
	// Truncated reply is sanitized before the operator sees it.
	assert.Equal(t, "Длинный ответ.", first)

	r.ProcessMessage(context.Background(), "продолжи", "Operator")
	prompt := echo.lastPrompt()
	assert.Contains(t, prompt, "Длинный ответ")
	assert.Contains(t, prompt, "Продолжи")
	assert.Equal(t, 2, echo.callCount())
}

func TestSafetyDenialSkipsDispatch(t *testing.T) {
	echo := newEchoServer(t)
	r := newTestRuntime(t, echo.srv.URL)

	reply := r.ProcessMessage(context.Background(), "удалить всю сеть немедленно", "Operator")
	assert.True(t, strings.HasPrefix(reply, "[SECURITY]"), "reply %q", reply)
	assert.Equal(t, 0, echo.callCount())
	assert.Equal(t, 0, r.buffer.Len())

	violations := r.gate.Violations()
	require.NotEmpty(t, violations)
	assert.Equal(t, safety.ClassSelfDestruction, violations[len(violations)-1].Class)
}

func TestFallbackWhenModelDown(t *testing.T) {
	r := newTestRuntime(t, "http://127.0.0.1:1")

	reply := r.ProcessMessage(context.Background(), "Привет", "Operator")
	assert.NotEmpty(t, reply)
	assert.False(t, strings.HasPrefix(reply, "ECHO:"))
	assert.Equal(t, 2, r.buffer.Len())
}

func TestConcurrentSearchAndTurns(t *testing.T) {
	echo := newEchoServer(t)
	r := newTestRuntime(t, echo.srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.SearchExternal(context.Background(), "фракталы", "Operator")
		}()
		go func() {
			defer wg.Done()
			r.ProcessMessage(context.Background(), "Привет", "Operator")
		}()
	}
	wg.Wait()

	// Every turn lands in the buffer regardless of interleaving.
	assert.Equal(t, 16, r.buffer.Len())
}

func TestStatusSnapshot(t *testing.T) {
	echo := newEchoServer(t)
	r := newTestRuntime(t, echo.srv.URL)

	r.ProcessMessage(context.Background(), "Привет", "Operator")
	status := r.Status()

	llmStatus, ok := status["llm"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, llmStatus["available"])
	assert.Equal(t, "echo-model", llmStatus["model"])
	assert.Equal(t, 2, status["dialogue_buffer"])
}

func TestShutdownBacksUpExperimental(t *testing.T) {
	echo := newEchoServer(t)
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.LLM.URL = echo.srv.URL
	cfg.LLM.PreferredModel = "echo-model"
	cfg.LLM.WarmupOnStart = false
	cfg.Knowledge.BaseURL = "http://127.0.0.1:1"

	r, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.ExperimentalDir(), "draft.txt"), []byte("черновик"), 0o644))
	require.NoError(t, r.Shutdown(context.Background()))

	backups, err := os.ReadDir(cfg.BackupDir())
	require.NoError(t, err)
	require.Len(t, backups, 1)

	meta, err := os.ReadFile(filepath.Join(cfg.BackupDir(), backups[0].Name(), "metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "draft.txt")
}
