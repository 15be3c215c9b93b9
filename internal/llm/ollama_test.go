package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckforge/deckforge/internal/apperr"
)

type plan struct {
	Strategy string `json:"strategy"`
}

func newTestServer(t *testing.T, responses []string) *httptest.Server {
	t.Helper()
	i := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.1.0"})
		case "/api/generate":
			resp := ""
			if i < len(responses) {
				resp = responses[i]
			}
			i++
			_ = json.NewEncoder(w).Encode(generateResponse{Response: resp, Done: true})
		}
	}))
}

func TestGenerateReturnsResponseText(t *testing.T) {
	srv := newTestServer(t, []string{"hello there"})
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{BaseURL: srv.URL, Model: "test"})
	text, err := p.Generate(context.Background(), "", "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestStructuredCallSucceedsFirstTry(t *testing.T) {
	srv := newTestServer(t, []string{`{"strategy":"aggro"}`})
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{BaseURL: srv.URL, Model: "test"})
	var out plan
	require.NoError(t, p.StructuredCall(context.Background(), "", "", &out))
	assert.Equal(t, "aggro", out.Strategy)
}

func TestStructuredCallRecoversOnRetry(t *testing.T) {
	srv := newTestServer(t, []string{"not json", `{"strategy":"control"}`})
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{BaseURL: srv.URL, Model: "test"})
	var out plan
	require.NoError(t, p.StructuredCall(context.Background(), "", "", &out))
	assert.Equal(t, "control", out.Strategy)
}

func TestStructuredCallFailsAfterSecondBadResponse(t *testing.T) {
	srv := newTestServer(t, []string{"not json", "still not json"})
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{BaseURL: srv.URL, Model: "test"})
	var out plan
	err := p.StructuredCall(context.Background(), "", "", &out)
	require.Error(t, err)
	assert.Equal(t, apperr.KindParseFailure, apperr.KindOf(err))
}

func TestStructuredCallStripsCodeFence(t *testing.T) {
	srv := newTestServer(t, []string{"```json\n{\"strategy\":\"ramp\"}\n```"})
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{BaseURL: srv.URL, Model: "test"})
	var out plan
	require.NoError(t, p.StructuredCall(context.Background(), "", "", &out))
	assert.Equal(t, "ramp", out.Strategy)
}

func TestIsAvailableChecksVersionEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	p := NewOllamaProvider(&OllamaConfig{BaseURL: srv.URL, Model: "test"})
	assert.True(t, p.IsAvailable(context.Background()))
}
