package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Pinger is the liveness probe a store exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler served on the dedicated healthcheck
// listener. It reports 500 when either store connection is down.
func NewHealthHandler(registry, secrets Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := "OK"
		if err := registry.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("healthcheck: registry store unreachable")
			status = http.StatusInternalServerError
			body = "Database connect error"
		} else if err := secrets.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("healthcheck: secret store unreachable")
			status = http.StatusInternalServerError
			body = "Providers connect error"
		}
		w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
		w.WriteHeader(status)
		w.Write([]byte(body)) //nolint:errcheck
	})
}
