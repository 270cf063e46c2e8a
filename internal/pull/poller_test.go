package pull_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/modelfleet/controld/internal/ollama"
	"github.com/modelfleet/controld/internal/pull"
)

// fakeBackend serves the two endpoints the poller drives.
type fakeBackend struct {
	pullCalls atomic.Int32
	tagsCalls atomic.Int32

	// availableAfter is the tags call on which the model appears. <= 0
	// means never.
	availableAfter int32
	model          string

	// pullStatus lets tests simulate a failing pull endpoint.
	pullStatus int
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		f.pullCalls.Add(1)
		status := f.pullStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		n := f.tagsCalls.Add(1)
		models := []map[string]string{{"name": "other-model"}}
		if f.availableAfter > 0 && n >= f.availableAfter {
			models = append(models, map[string]string{"name": f.model})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"models": models})
	})
	return mux
}

func newPoller(t *testing.T, baseURL string, rounds int) *pull.Poller {
	t.Helper()
	client, err := ollama.NewClient(ollama.ClientConfig{BaseURL: baseURL})
	require.NoError(t, err)
	return pull.NewPoller(client, pull.Config{
		Rounds:     rounds,
		RoundDelay: time.Millisecond,
		Logger:     zerolog.Nop(),
	})
}

func TestPullSucceedsWhenModelAppears(t *testing.T) {
	backend := &fakeBackend{model: "llama3:8b", availableAfter: 3}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	outcome, err := newPoller(t, srv.URL, 10).Pull(context.Background(), "llama3:8b")
	require.NoError(t, err)
	require.Equal(t, pull.Success, outcome)

	// Stopped at round 3, not after.
	require.Equal(t, int32(3), backend.tagsCalls.Load())
	require.Equal(t, int32(3), backend.pullCalls.Load())
}

func TestPullExhaustsAllRounds(t *testing.T) {
	backend := &fakeBackend{model: "llama3:8b", availableAfter: 0}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	outcome, err := newPoller(t, srv.URL, 10).Pull(context.Background(), "llama3:8b")
	require.NoError(t, err)
	require.Equal(t, pull.NotAvailableAfterRetries, outcome)
	require.Equal(t, int32(10), backend.pullCalls.Load())
	require.Equal(t, int32(10), backend.tagsCalls.Load())
}

func TestPullTriggerFailureDoesNotAbortRound(t *testing.T) {
	backend := &fakeBackend{model: "llama3:8b", availableAfter: 2, pullStatus: http.StatusBadGateway}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	outcome, err := newPoller(t, srv.URL, 5).Pull(context.Background(), "llama3:8b")
	require.NoError(t, err)
	require.Equal(t, pull.Success, outcome)
}

func TestPullStopsOnContextCancel(t *testing.T) {
	backend := &fakeBackend{model: "llama3:8b", availableAfter: 0}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := newPoller(t, srv.URL, 10).Pull(ctx, "llama3:8b")
	require.Error(t, err)
	require.Equal(t, pull.NotAvailableAfterRetries, outcome)
}
