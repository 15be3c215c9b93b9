// Package llm mediates structured-output calls to the LLM provider that
// backs the quality analyzer, agent builder, and modification executor
// (spec §4.7-§4.9, §4.11).
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/deckforge/deckforge/internal/apperr"
)

// Message is one turn of a chat-style exchange.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Options tunes a generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Provider is the narrow interface every component call site depends on.
// The wire protocol to the actual model is an external collaborator
// (spec §1); this interface is what the core owns.
type Provider interface {
	// IsAvailable reports whether the provider is currently reachable.
	IsAvailable(ctx context.Context) bool

	// Generate produces free text from a system+user prompt pair.
	Generate(ctx context.Context, system, prompt string, opts Options) (string, error)

	// StructuredCall requests JSON conforming to the shape of out and
	// unmarshals the response into it. A malformed or failed first attempt
	// is retried once with the same input (spec §4.11). If the retry's
	// response is malformed it returns an *apperr.Error of kind
	// parse_failure; if the retry's request fails, of kind
	// upstream_unavailable.
	StructuredCall(ctx context.Context, system, prompt string, out interface{}) error
}

// structuredCallWithRetry is the shared one-retry-then-fail policy used by
// every Provider implementation's StructuredCall.
func structuredCallWithRetry(ctx context.Context, generate func(ctx context.Context) (string, error), out interface{}) error {
	text, err := generate(ctx)
	if err == nil {
		if decodeErr := decodeJSON(text, out); decodeErr == nil {
			return nil
		}
	}

	select {
	case <-time.After(150 * time.Millisecond):
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindTimeout, "structured call canceled during retry backoff", ctx.Err())
	}

	text, err = generate(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "llm structured call failed", err)
	}
	if decodeErr := decodeJSON(text, out); decodeErr != nil {
		return apperr.Wrap(apperr.KindParseFailure, "llm returned malformed structured output after retry", decodeErr)
	}
	return nil
}

// decodeJSON strips common code-fence wrapping before unmarshaling, since
// models frequently wrap JSON in ```json ... ``` even when asked not to.
func decodeJSON(text string, out interface{}) error {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	return json.Unmarshal([]byte(trimmed), out)
}
