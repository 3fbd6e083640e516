package httpapi

import (
	"net/http"

	"github.com/toseekandfind/multi-agent-sandbox/internal/apperr"
	"github.com/toseekandfind/multi-agent-sandbox/internal/httpapi/response"
)

// writeAppError maps a taxonomy Kind (§7 of the design) onto an HTTP
// status and a stable error code string, so every handler surfaces the
// same status for the same Kind rather than picking one ad hoc.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status, code := statusForKind(kind)
	response.Error(w, status, code, err.Error(), nil)
}

func statusForKind(kind apperr.Kind) (int, string) {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case apperr.NotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperr.Conflict:
		return http.StatusConflict, "CONFLICT"
	case apperr.Handler:
		return http.StatusInternalServerError, "HANDLER_ERROR"
	case apperr.Timeout:
		return http.StatusGatewayTimeout, "TIMEOUT"
	case apperr.TransientBackend:
		return http.StatusServiceUnavailable, "TRANSIENT_BACKEND"
	case apperr.PermanentBackend:
		return http.StatusInternalServerError, "PERMANENT_BACKEND"
	case apperr.Security:
		return http.StatusUnauthorized, "SECURITY"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
