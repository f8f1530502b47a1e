package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a handler for GET /health. It answers 503 when the store
// does not respond within two seconds.
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			logError(r, err, domain.EUNAVAILABLE, http.StatusServiceUnavailable)
			JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}

		JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
