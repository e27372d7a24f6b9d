// Package llm implements the dispatcher that talks to the local Ollama
// endpoint: single-shot generate requests with bounded retries, truncation
// detection and rolling statistics.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/alpha/internal/fault"
	"github.com/normanking/alpha/internal/metrics"
)

// MaxErrorBodySize limits how much of an error response body is read.
const MaxErrorBodySize = 1 * 1024 * 1024

// Config configures the dispatcher.
type Config struct {
	URL            string
	PreferredModel string
	FallbackModel  string
	Timeout        time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
	NumPredict     int
	Temperature    float64
	RepeatPenalty  float64
	TopK           int
	TopP           float64
}

// defaults fills zero fields.
func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = "http://127.0.0.1:11434"
	}
	if c.Timeout == 0 {
		c.Timeout = 600 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.NumPredict == 0 {
		c.NumPredict = 400
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.RepeatPenalty == 0 {
		c.RepeatPenalty = 1.15
	}
	if c.TopK == 0 {
		c.TopK = 40
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
}

// Options carries per-call sampling parameters. Zero fields fall back to
// the dispatcher config.
type Options struct {
	Temperature float64
	NumPredict  int
	Timeout     time.Duration
}

// stopWords terminate generation before the model starts speaking for the
// operator.
var stopWords = []string{"Оператор:", "Operator:", "User:", "\nЧеловек:"}

// Stats is a snapshot of dispatcher statistics.
type Stats struct {
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	AvgLatency      time.Duration `json:"avg_latency"`
	AvgPromptTokens float64       `json:"avg_prompt_tokens"`
}

// Dispatcher is the runtime's only path to the LLM endpoint.
type Dispatcher struct {
	cfg    Config
	client *http.Client

	mu            sync.Mutex
	available     bool
	model         string
	models        []string
	stats         Stats
	totalLatency  time.Duration
	totalPromptTk int

	lastCompleteResponse string
	lastTruncated        bool
}

// New creates a dispatcher. Call Probe before the first Generate.
func New(cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		cfg: cfg,
		// No client-level timeout: the per-call deadline is a context
		// deadline so reflection calls can extend it.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Probe queries the tags endpoint, records the model list and resolves the
// working model. The dispatcher marks itself unavailable when neither the
// preferred nor the fallback model is present.
func (d *Dispatcher) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.URL+"/api/tags", nil)
	if err != nil {
		return fault.New(fault.LLMUnavailable, "llm.probe", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.setAvailable(false, "", nil)
		return fault.New(fault.LLMUnavailable, "llm.probe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		d.setAvailable(false, "", nil)
		return fault.Newf(fault.LLMUnavailable, "llm.probe", "tags returned status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		d.setAvailable(false, "", nil)
		return fault.New(fault.LLMUnavailable, "llm.probe", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}

	model := ""
	for _, candidate := range []string{d.cfg.PreferredModel, d.cfg.FallbackModel} {
		for _, name := range names {
			if candidate != "" && name == candidate {
				model = candidate
				break
			}
		}
		if model != "" {
			break
		}
	}
	if model == "" {
		d.setAvailable(false, "", names)
		return fault.Newf(fault.LLMUnavailable, "llm.probe",
			"neither %q nor %q present among %d models", d.cfg.PreferredModel, d.cfg.FallbackModel, len(names))
	}

	d.setAvailable(true, model, names)
	log.Info().Str("model", model).Int("models", len(names)).Msg("llm endpoint available")
	return nil
}

func (d *Dispatcher) setAvailable(ok bool, model string, models []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = ok
	d.model = model
	d.models = models
}

// Available reports whether the last probe succeeded.
func (d *Dispatcher) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// Model returns the resolved model name.
func (d *Dispatcher) Model() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.model
}

// Models returns the model list recorded by the last successful probe.
func (d *Dispatcher) Models() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.models))
	copy(out, d.models)
	return out
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature   float64  `json:"temperature"`
	NumPredict    int      `json:"num_predict"`
	TopK          int      `json:"top_k"`
	TopP          float64  `json:"top_p"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends the prompt and returns the (possibly sanitized) reply.
// Each attempt updates statistics; retries use exponential backoff. The
// pre-sanitization reply is retained for continuation turns.
func (d *Dispatcher) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if !d.Available() {
		return "", fault.Newf(fault.LLMUnavailable, "llm.generate", "endpoint not available")
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = d.cfg.Timeout
	}

	var lastErr error
	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := d.cfg.BaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fault.New(fault.LLMTimeout, "llm.generate", ctx.Err())
			}
		}

		reply, err := d.attempt(ctx, prompt, opts, timeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		// Timeouts are not retried: the deadline covers the whole call.
		if fault.Is(err, fault.LLMTimeout) {
			return "", err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("llm attempt failed")
	}
	return "", lastErr
}

func (d *Dispatcher) attempt(ctx context.Context, prompt string, opts Options, timeout time.Duration) (string, error) {
	start := time.Now()

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = d.cfg.Temperature
	}
	numPredict := opts.NumPredict
	if numPredict == 0 {
		numPredict = d.cfg.NumPredict
	}

	genReq := generateRequest{
		Model:  d.Model(),
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature:   temperature,
			NumPredict:    numPredict,
			TopK:          d.cfg.TopK,
			TopP:          d.cfg.TopP,
			RepeatPenalty: d.cfg.RepeatPenalty,
			Stop:          stopWords,
		},
	}

	body, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, d.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			d.record(false, time.Since(start), 0)
			metrics.LLMRequests.WithLabelValues("timeout").Inc()
			return "", fault.New(fault.LLMTimeout, "llm.generate", err)
		}
		d.record(false, time.Since(start), 0)
		metrics.LLMRequests.WithLabelValues("failure").Inc()
		return "", fault.New(fault.LLMProtocolError, "llm.generate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		d.record(false, time.Since(start), 0)
		metrics.LLMRequests.WithLabelValues("failure").Inc()
		return "", fault.Newf(fault.LLMProtocolError, "llm.generate",
			"status %d: %s", resp.StatusCode, string(errBody))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		d.record(false, time.Since(start), 0)
		metrics.LLMRequests.WithLabelValues("failure").Inc()
		return "", fault.New(fault.LLMProtocolError, "llm.generate", err)
	}
	if genResp.Response == "" {
		d.record(false, time.Since(start), 0)
		metrics.LLMRequests.WithLabelValues("failure").Inc()
		return "", fault.Newf(fault.LLMProtocolError, "llm.generate", "empty response body")
	}

	latency := time.Since(start)
	d.record(true, latency, genResp.PromptEvalCount)
	metrics.LLMRequests.WithLabelValues("success").Inc()
	metrics.LLMLatency.Observe(latency.Seconds())

	raw := genResp.Response
	d.mu.Lock()
	d.lastCompleteResponse = raw
	d.lastTruncated = IsTruncated(raw)
	truncated := d.lastTruncated
	d.mu.Unlock()

	if truncated {
		log.Debug().Msg("reply classified as truncated, sanitizing")
		return Sanitize(raw), nil
	}
	return raw, nil
}

// LastCompleteResponse returns the raw reply of the most recent call, kept
// so a continuation turn can resume from it.
func (d *Dispatcher) LastCompleteResponse() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCompleteResponse
}

// LastTruncated reports whether the most recent reply was truncated.
func (d *Dispatcher) LastTruncated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTruncated
}

// Warmup sends a minimal low-temperature request so the model is resident
// before the first real turn.
func (d *Dispatcher) Warmup(ctx context.Context) error {
	_, err := d.Generate(ctx, "Привет.", Options{Temperature: 0.3, NumPredict: 5})
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

func (d *Dispatcher) record(ok bool, latency time.Duration, promptTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Total++
	if ok {
		d.stats.Successful++
	} else {
		d.stats.Failed++
	}
	d.totalLatency += latency
	d.totalPromptTk += promptTokens
	d.stats.AvgLatency = d.totalLatency / time.Duration(d.stats.Total)
	d.stats.AvgPromptTokens = float64(d.totalPromptTk) / float64(d.stats.Total)
}

// Statistics returns a snapshot of call statistics.
func (d *Dispatcher) Statistics() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
