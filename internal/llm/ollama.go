package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OllamaConfig configures the Ollama-backed provider.
type OllamaConfig struct {
	BaseURL          string
	Model            string
	RequestTimeout   time.Duration
	InferenceTimeout time.Duration

	// RequestsPerSecond bounds outbound call rate, mirroring the
	// Scryfall client's token-bucket limiter. Zero disables limiting.
	RequestsPerSecond float64
	// MaxInFlight bounds concurrent calls in flight (the §5 back-pressure
	// semaphore). Zero disables the bound.
	MaxInFlight int
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() *OllamaConfig {
	return &OllamaConfig{
		BaseURL:           "http://localhost:11434",
		Model:             "qwen3:8b",
		RequestTimeout:    10 * time.Second,
		InferenceTimeout:  60 * time.Second,
		RequestsPerSecond: 5,
		MaxInFlight:       4,
	}
}

// OllamaProvider implements Provider against a local or remote Ollama
// instance's /api/generate endpoint.
type OllamaProvider struct {
	config     *OllamaConfig
	httpClient *http.Client

	rateLimiter *rate.Limiter
	inFlight    chan struct{}

	mu        sync.RWMutex
	available bool
	lastCheck time.Time
}

// NewOllamaProvider creates a provider from config, defaulting it if nil.
func NewOllamaProvider(config *OllamaConfig) *OllamaProvider {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	p := &OllamaProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
	}
	if config.RequestsPerSecond > 0 {
		p.rateLimiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	if config.MaxInFlight > 0 {
		p.inFlight = make(chan struct{}, config.MaxInFlight)
	}
	return p
}

// acquire blocks until both the rate limiter and the in-flight semaphore
// admit one more call, releasing the semaphore slot via the returned func.
func (p *OllamaProvider) acquire(ctx context.Context) (func(), error) {
	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	if p.inFlight == nil {
		return func() {}, nil
	}
	select {
	case p.inFlight <- struct{}{}:
		return func() { <-p.inFlight }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type generateRequest struct {
	Model   string           `json:"model"`
	System  string           `json:"system,omitempty"`
	Prompt  string           `json:"prompt"`
	Stream  bool             `json:"stream"`
	Format  string           `json:"format,omitempty"`
	Options *generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// IsAvailable checks /api/version, caching the result for a short window
// to avoid a round trip on every call.
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	p.mu.RLock()
	fresh := time.Since(p.lastCheck) < 10*time.Second
	available := p.available
	p.mu.RUnlock()
	if fresh {
		return available
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	ok := err == nil && resp.StatusCode == http.StatusOK
	if resp != nil {
		_ = resp.Body.Close()
	}

	p.mu.Lock()
	p.available = ok
	p.lastCheck = time.Now()
	p.mu.Unlock()

	return ok
}

// Generate issues a non-streaming /api/generate call.
func (p *OllamaProvider) Generate(ctx context.Context, system, prompt string, opts Options) (string, error) {
	req := generateRequest{
		Model:  p.config.Model,
		System: system,
		Prompt: prompt,
		Stream: false,
		Options: &generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	resp, err := p.doGenerate(ctx, &req)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// StructuredCall asks the model to emit JSON (format:"json") and decodes it
// into out, retrying once on parse failure per the shared policy.
func (p *OllamaProvider) StructuredCall(ctx context.Context, system, prompt string, out interface{}) error {
	generate := func(ctx context.Context) (string, error) {
		req := generateRequest{
			Model:  p.config.Model,
			System: system,
			Prompt: prompt,
			Stream: false,
			Format: "json",
		}
		resp, err := p.doGenerate(ctx, &req)
		if err != nil {
			return "", err
		}
		return resp.Response, nil
	}
	return structuredCallWithRetry(ctx, generate, out)
}

func (p *OllamaProvider) doGenerate(ctx context.Context, req *generateRequest) (*generateResponse, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: p.config.InferenceTimeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("generate failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	return &genResp, nil
}
