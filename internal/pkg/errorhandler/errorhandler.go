// Package errorhandler writes error envelopes and makes sure server-side
// failures leave a log line tied to the request.
package errorhandler

import (
	"context"
	"net/http"
	"time"

	"github.com/uzmarket/marketplace-core/internal/pkg/logger"
	"github.com/uzmarket/marketplace-core/internal/pkg/response"
)

// RetryAfter is advertised on 503 responses.
const RetryAfter = 2 * time.Second

// HandleError logs 5xx failures with the request logger and writes the envelope.
// The underlying error never reaches the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	l := logger.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Str("error_code", code).Int("status_code", status).Msg(message)
	} else if err != nil {
		l.Debug().Err(err).Str("error_code", code).Int("status_code", status).Msg(message)
	}
	response.Error(w, status, code, message)
}

// Internal is HandleError for unexpected failures.
func Internal(ctx context.Context, w http.ResponseWriter, err error) {
	logger.FromContext(ctx).Error().Err(err).Msg("Request failed")
	response.InternalError(w)
}

// Unavailable logs a transient failure and answers 503 with Retry-After.
func Unavailable(ctx context.Context, w http.ResponseWriter, err error) {
	logger.FromContext(ctx).Warn().Err(err).Msg("Request deferred: dependency unavailable")
	response.ServiceUnavailable(w, RetryAfter)
}

// LogValidationError logs validation errors with details
func LogValidationError(ctx context.Context, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().Interface("validation_errors", fieldErrors).Msg("Validation error")
}
