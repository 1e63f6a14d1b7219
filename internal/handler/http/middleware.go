package http

import (
	"mime"
	"net/http"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
	"github.com/charmntreats/addressvault/pkg/httputil"
)

var errNotJSON = &apperrors.AppError{
	Code:    "UNSUPPORTED_MEDIA_TYPE",
	Message: "address payloads must be sent as application/json",
	Status:  http.StatusUnsupportedMediaType,
	Err:     apperrors.ErrInvalidInput,
}

// requireJSON rejects address payloads that are not JSON. Bodyless calls
// such as PUT /{id}/default pass through.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0 || r.Method == http.MethodPost
		if hasBody {
			mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || mediaType != "application/json" {
				httputil.WriteError(w, r, errNotJSON, nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
