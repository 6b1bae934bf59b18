package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/approve"
	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/device"
	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/health"
	"github.com/oauthkit/deviceauth/cmd/deviceauthd/handlers/token"
	"github.com/oauthkit/deviceauth/internal/devicegrant"
	"github.com/oauthkit/deviceauth/internal/store"
)

type server struct {
	router *chi.Mux
}

func newServer(grant *devicegrant.Server, st store.Store, logger zerolog.Logger) *server {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(middleware.Timeout(30 * time.Second))

	approval := approve.New(grant, logger)

	router.Post("/device_authorization", device.New(grant, logger).ServeHTTP)
	router.Post("/token", token.New(grant, logger).ServeHTTP)
	router.Post("/device/approve", approval.Approve)
	router.Post("/device/deny", approval.Deny)
	router.Get("/healthz", health.New(st).ServeHTTP)

	return &server{router: router}
}

// requestLogger emits one structured line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
