package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/ledger"
	"github.com/spearsim/scenebatch/internal/logging"
	"github.com/spearsim/scenebatch/internal/playback"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/doctor", doctorHandler(cfg))

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", listRunsHandler(cfg))
		r.Route("/{id}", func(r chi.Router) {
			r.Use(runCtx(cfg))
			r.Get("/", getRunHandler(cfg))
			r.Get("/variants", listVariantsHandler(cfg))
			r.Get("/noise", listNoiseHandler(cfg))
			r.Get("/errors", listMinuteErrorsHandler(cfg))
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/artifacts", artifactHandler(cfg))
		r.Head("/artifacts", artifactHandler(cfg))
	})

	return r
}

type runKey struct{}

// runCtx loads the run named in the path, answering 404 for unknown ids.
func runCtx(cfg ServerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			run, err := cfg.Repository.GetRun(r.Context(), id)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if run == nil {
				WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithRun(r, run)))
		})
	}
}

func contextWithRun(r *http.Request, run *ledger.Run) context.Context {
	return context.WithValue(r.Context(), runKey{}, run)
}

func runFrom(r *http.Request) *ledger.Run {
	run, _ := r.Context().Value(runKey{}).(*ledger.Run)
	return run
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lastRun, _ := cfg.Repository.GetConfig(r.Context(), ledger.ConfigLastRun)
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			LastRun: lastRun,
		})
	}
}

func doctorHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Doctor == nil {
			WriteError(w, http.StatusServiceUnavailable, "doctor not configured", "UNAVAILABLE")
			return
		}
		caps, err := cfg.Doctor.Get(r.Context())
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
			return
		}
		WriteJSON(w, http.StatusOK, DoctorToResponse(caps))
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		runs, err := cfg.Repository.ListRuns(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := runFrom(r)
		counts, err := cfg.Repository.CountOutcomes(r.Context(), run.ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		resp := RunToResponse(run)
		resp.Outcomes = counts
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listVariantsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := cfg.Repository.ListVariants(r.Context(), runFrom(r).ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if minute := r.URL.Query().Get("minute"); minute != "" {
			filtered := attempts[:0]
			for _, a := range attempts {
				if a.Minute == minute {
					filtered = append(filtered, a)
				}
			}
			attempts = filtered
		}
		if attempts == nil {
			attempts = []*ledger.VariantAttempt{}
		}
		WriteJSON(w, http.StatusOK, VariantsResponse{Variants: attempts})
	}
}

func listNoiseHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noise, err := cfg.Repository.ListNoise(r.Context(), runFrom(r).ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if noise == nil {
			noise = []*ledger.NoiseAssignment{}
		}
		WriteJSON(w, http.StatusOK, NoiseResponse{Assignments: noise})
	}
}

func listMinuteErrorsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		errs, err := cfg.Repository.ListMinuteErrors(r.Context(), runFrom(r).ID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if errs == nil {
			errs = []*ledger.MinuteError{}
		}
		WriteJSON(w, http.StatusOK, MinuteErrorsResponse{Errors: errs})
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Artifacts == nil {
			WriteError(w, http.StatusServiceUnavailable, "artifact serving not configured", "UNAVAILABLE")
			return
		}
		path := r.URL.Query().Get("path")
		if path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		err := cfg.Artifacts.ServeArtifact(w, r, path)
		switch {
		case err == nil:
		case errors.Is(err, playback.ErrOutsideRoot), errors.Is(err, playback.ErrNotAnArtifact):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		case errors.Is(err, playback.ErrRootNotDefined):
			WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
		default:
			cfg.Logger.Error("artifact error", "error", err, "path", path)
			WriteError(w, http.StatusInternalServerError, "failed to serve artifact", "INTERNAL_ERROR")
		}
	}
}
