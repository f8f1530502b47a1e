package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/oraculocultural/oraculo/internal/domain"
)

type contextKey string

// Only the codes middleware can produce. Handlers map the rest through
// handler.ErrorCodeToHTTPStatus; middleware cannot import handler.
var middlewareStatus = map[string]int{
	domain.ETOOLARGE:  http.StatusRequestEntityTooLarge,
	domain.ERATELIMIT: http.StatusTooManyRequests,
}

// respondWithError writes the JSON error envelope used across the API.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status, ok := middlewareStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	GetLogger(r.Context()).Info("request rejected",
		"code", code,
		"status", status,
		"path", r.URL.Path,
		"method", r.Method,
		"request_id", GetRequestID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": domain.ErrorMessage(err),
		},
	})
}

func respondTooManyRequests(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Errorf(domain.ERATELIMIT, "", "Too many requests"))
}

func respondTooLarge(w http.ResponseWriter, r *http.Request, message string) {
	respondWithError(w, r, domain.Errorf(domain.ETOOLARGE, "", "%s", message))
}
