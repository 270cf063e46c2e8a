package relay_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modelfleet/controld/internal/ollama"
	"github.com/modelfleet/controld/internal/relay"
)

func newRelay(t *testing.T, chatHandler http.HandlerFunc) *relay.Relay {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", chatHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client, err := ollama.NewClient(ollama.ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	return relay.New(client, zerolog.Nop())
}

func TestGenerateStreamsSSE(t *testing.T) {
	rl := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"Hello"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"content":" world\n"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
	})

	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"ollama/llama3:8b","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	rl.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Contains(t, body, "data: Hello\n\n")
	// Newlines inside a chunk are escaped to keep the SSE frame intact.
	require.Contains(t, body, "data:  world\\n\n\n")
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestGenerateRejectsCloudHostedModels(t *testing.T) {
	rl := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend must not be called for cloud-hosted models")
	})

	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"bedrock/anthropic.claude-3-haiku-20240307-v1:0","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	rl.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestGenerateValidatesRequest(t *testing.T) {
	rl := newRelay(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"model":"x"}`))
	rec := httptest.NewRecorder()
	rl.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateBackendFailure(t *testing.T) {
	rl := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodPost, "/generate",
		strings.NewReader(`{"model":"llama3:8b","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	rl.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
