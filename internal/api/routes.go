package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipwizard/clipwizard/internal/apperr"
	"github.com/clipwizard/clipwizard/internal/logging"
)

const bannerText = "Clipwizard AI is running!"

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = logging.WithComponent(cfg.Logger, "api")

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/", rootHandler())
	r.Get("/health", healthHandler(cfg))

	r.Post("/uploads", uploadHandler(cfg))
	r.Post("/transcribe", transcribeHandler(cfg))
	r.Post("/highlights", highlightsHandler(cfg))
	r.Post("/clips", clipsHandler(cfg))
	r.Post("/process", processHandler(cfg))
	r.Post("/export/edl", exportEDLHandler(cfg))

	r.Get("/downloads/{name}", downloadHandler(cfg))
	r.Head("/downloads/{name}", downloadHandler(cfg))
	r.Get("/runs/{id}", getRunHandler(cfg))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "not found", string(apperr.NotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})

	return r
}

func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, bannerText)
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}

		if cfg.Health != nil {
			caps, err := cfg.Health.Get(r.Context())
			if err != nil {
				cfg.Logger.Warn("health probe unavailable", "error", err)
				resp.Status = "degraded"
			} else {
				resp.Capabilities = caps
				if !caps.Ready() {
					resp.Status = "degraded"
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := url.PathUnescape(chi.URLParam(r, "name"))
		if err != nil {
			WriteError(w, http.StatusNotFound, "artifact not found", string(apperr.NotFound))
			return
		}

		if err := cfg.Store.ServeArtifact(w, r, name); err != nil {
			writeAppError(w, r, cfg.Logger, err)
		}
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, artifacts, err := cfg.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeAppError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, RunToResponse(run, artifacts))
	}
}
