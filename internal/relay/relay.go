// Package relay forwards streaming chat completions from the backend to
// clients as server-sent events. Plain byte forwarding: no retries, no state.
package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/catalog"
	"github.com/modelfleet/controld/internal/ollama"
)

type Relay struct {
	backend *ollama.Client
	log     zerolog.Logger
}

func New(backend *ollama.Client, logger zerolog.Logger) *Relay {
	return &Relay{
		backend: backend,
		log:     logger.With().Str("component", "relay").Logger(),
	}
}

type generateRequest struct {
	Model    string               `json:"model"`
	Messages []ollama.ChatMessage `json:"messages"`
}

// chatChunk is the slice of the backend's streaming response we forward.
type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	r.Body.Close()
	if req.Model == "" || len(req.Messages) == 0 {
		http.Error(w, "model and messages required", http.StatusBadRequest)
		return
	}
	if catalog.IsCloudHosted(req.Model) {
		http.Error(w, "cloud-hosted models are not relayed by this deployment", http.StatusNotImplemented)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	body, err := rl.backend.ChatStream(r.Context(), catalog.LocalName(req.Model), req.Messages)
	if err != nil {
		rl.log.Error().Err(err).Str("model", req.Model).Msg("backend chat request failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			rl.log.Warn().Err(err).Msg("skipping unparseable chat chunk")
			continue
		}
		if chunk.Message.Content != "" {
			writeEvent(w, chunk.Message.Content)
			flusher.Flush()
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		rl.log.Warn().Err(err).Msg("chat stream ended with error")
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeEvent emits one SSE data line with newlines escaped so the payload
// stays on a single line.
func writeEvent(w http.ResponseWriter, content string) {
	escaped := strings.NewReplacer("\n", "\\n", "\r", "\\r").Replace(content)
	fmt.Fprintf(w, "data: %s\n\n", escaped)
}
