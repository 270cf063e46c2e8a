// Package httpserver wires the control plane's process-facing HTTP surface.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/modelfleet/controld/internal/catalog"
	"github.com/modelfleet/controld/internal/fleet"
	"github.com/modelfleet/controld/internal/lifecycle"
	"github.com/modelfleet/controld/internal/ollama"
)

type Server struct {
	backend      *ollama.Client
	orchestrator *lifecycle.Orchestrator
	scaler       *fleet.Scaler
	relay        http.Handler
	log          zerolog.Logger
}

func New(backend *ollama.Client, orch *lifecycle.Orchestrator, scaler *fleet.Scaler, relay http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		backend:      backend,
		orchestrator: orch,
		scaler:       scaler,
		relay:        relay,
		log:          logger.With().Str("component", "http").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// The generate relay streams; everything else gets a request timeout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Minute))
		r.Post("/pull_model/{model}", s.handlePullModel)
		r.Get("/check_model/{model}", s.handleCheckModel)
		r.Delete("/delete_model/{model}", s.handleDeleteModel)
		r.Get("/list_models", s.handleListModels)
		r.Get("/start_selfhost_llm", s.handleStart)
		r.Get("/shutdown_selfhost_llm", s.handleShutdown)
		r.Get("/selfhost_status", s.handleStatus)
	})

	if s.relay != nil {
		r.Post("/generate", s.relay.ServeHTTP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePullModel acknowledges immediately; the run proceeds detached and
// its outcome is only observable via logs or a later check_model call.
func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if model == "" {
		respondError(w, http.StatusBadRequest, "model name required")
		return
	}
	runID := s.orchestrator.StartPull(model)
	s.log.Info().Str("model", model).Str("run_id", runID).Msg("pull run started")
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "pull_started",
		"model":  model,
		"run_id": runID,
	})
}

func (s *Server) handleCheckModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	found, detail, err := s.backend.HasModel(r.Context(), model)
	if err != nil {
		respondBackendError(w, err)
		return
	}
	if !found {
		respondJSON(w, http.StatusOK, map[string]interface{}{"available": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"available": true,
		"model":     detail,
	})
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if err := s.backend.Delete(r.Context(), model); err != nil {
		if errors.Is(err, ollama.ErrNotFound) {
			respondError(w, http.StatusNotFound, "model not found")
			return
		}
		respondBackendError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "model": model})
}

// handleListModels merges the enterprise catalog with the backend's live
// inventory. A backend that is down or scaled to zero must not break the
// listing, so its failure only drops the local entries.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	entries := []catalog.Entry{}
	local, err := s.backend.ListModels(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to fetch backend inventory for listing")
	} else {
		for _, m := range local {
			entries = append(entries, catalog.Entry{
				Value: "ollama/" + m.Name,
				Label: "ollama (" + m.Name + ")",
			})
		}
	}
	entries = append(entries, catalog.Entries()...)
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": entries})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleScale(w, r, 1)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.handleScale(w, r, 0)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request, count int32) {
	if err := s.scaler.SetDesired(r.Context(), count); err != nil {
		if errors.Is(err, fleet.ErrMissingConfig) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.scaler.Status(r.Context())
	if err != nil {
		if errors.Is(err, fleet.ErrMissingConfig) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// respondBackendError passes a backend status code through to the caller.
func respondBackendError(w http.ResponseWriter, err error) {
	var statusErr *ollama.StatusError
	if errors.As(err, &statusErr) {
		respondError(w, statusErr.StatusCode, statusErr.Body)
		return
	}
	respondError(w, http.StatusBadGateway, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
