// Package llm implements a decision oracle backed by an OpenAI-compatible
// chat-completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/greenwave-io/greenwave/internal/decision"
	"github.com/greenwave-io/greenwave/internal/ir"
	"github.com/greenwave-io/greenwave/internal/logging"
)

const (
	DefaultURL         = "https://api.siliconflow.cn/v1/chat/completions"
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 200

	defaultTimeout = 30 * time.Second
	maxResponse    = 2 << 20
)

// Config configures the oracle.
type Config struct {
	APIKey      string
	URL         string
	Model       string
	// Temperature is sent as is when set, including 0; nil means DefaultTemperature.
	Temperature *float64
	MaxTokens   int
	HTTPClient  *http.Client
}

// Oracle asks a language model for traffic light phases.
type Oracle struct {
	apiKey      string
	url         string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ decision.Oracle = (*Oracle)(nil)

// New creates an oracle. The API key is required.
func New(cfg Config) (*Oracle, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("llm oracle: api key is required")
	}

	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
		if temperature < 0 || math.IsNaN(temperature) {
			return nil, fmt.Errorf("llm oracle: invalid temperature %v", temperature)
		}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Oracle{
		apiKey:      apiKey,
		url:         url,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  httpClient,
	}, nil
}

// Model returns the model name sent with each request.
func (o *Oracle) Model() string {
	return o.model
}

// Decide sends the intersection states to the model and parses its answer.
func (o *Oracle) Decide(ctx context.Context, req *decision.Request) (map[string]int, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("oracle request: %w", err)
	}

	encoded, err := json.Marshal(chatCompletionRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle request encode: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("oracle request build: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")

	logging.Debug("sending oracle request", "model", o.model, "step", req.StepIndex)

	response, err := o.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("oracle request execute: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("oracle response read: %w", err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("oracle response status=%d body=%s", response.StatusCode, string(body))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("oracle response decode: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("oracle response decode: no choices")
	}

	phases, err := ParseAnswer(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("oracle response decode: %w", err)
	}
	return phases, nil
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildPrompt(req *decision.Request) (string, error) {
	states := make(map[string]ir.IntersectionState, len(req.IntersectionStates))
	for _, st := range req.IntersectionStates {
		states[st.ID] = st
	}
	stateJSON, err := json.Marshal(states)
	if err != nil {
		return "", fmt.Errorf("encode states: %w", err)
	}
	idsJSON, err := json.Marshal(req.IntersectionIDs)
	if err != nil {
		return "", fmt.Errorf("encode ids: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are a traffic signal control expert.\n")
	fmt.Fprintf(&b, "Current traffic state at step %d", req.StepIndex)
	if req.TotalSteps > 0 {
		fmt.Fprintf(&b, " of %d", req.TotalSteps)
	}
	fmt.Fprintf(&b, ": %s\n", stateJSON)
	fmt.Fprintf(&b, "Assign a signal phase (0, 1, 2, 3, ...) to each of these intersections: %s\n", idsJSON)
	b.WriteString(`Reply with a JSON object mapping every intersection id to one phase number and nothing else, for example {"intersection_0":0, "intersection_1":1}`)
	return b.String(), nil
}

// ParseAnswer extracts the id to phase object from a model reply. Text or a
// markdown fence around the object is ignored. Values may be integral
// numbers or numeric strings; other values, and values too large to be a
// phase, are skipped.
func ParseAnswer(content string) (map[string]int, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in answer %q", truncate(content, 120))
	}

	dec := json.NewDecoder(strings.NewReader(content[start : end+1]))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON object in answer: %w", err)
	}

	phases := make(map[string]int, len(raw))
	for id, v := range raw {
		phase, ok := phaseValue(v)
		if !ok {
			logging.Warn("ignoring non-numeric phase in oracle answer", "intersection", id, "value", v)
			continue
		}
		phases[id] = phase
	}
	return phases, nil
}

// phaseValue accepts integral values within ±math.MaxInt32. Larger values
// would wrap on conversion and read as a different phase.
func phaseValue(v any) (int, bool) {
	var n int64
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = i
			break
		}
		f, err := x.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, false
		}
		n = int64(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	if n > math.MaxInt32 || n < -math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
