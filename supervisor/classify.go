package supervisor

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// classifyMongoError buckets a driver error into one of the taxonomy
// categories from the error-handling design: "connection" failures are
// retried by the caller's backoff loop, the rest are logged and surfaced.
func classifyMongoError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "connection"
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.HasErrorLabel("ResumableChangeStreamError") {
			return "change-stream"
		}
		msg := strings.ToLower(cmdErr.Message)
		if strings.Contains(msg, "not authorized") {
			return "auth"
		}
		if strings.Contains(msg, "change stream") {
			return "change-stream"
		}
		return "generic"
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "server selection error") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no reachable servers") ||
		strings.Contains(msg, "client is disconnected") {
		return "connection"
	}
	return "generic"
}

// isRetriableConnectionError reports whether err belongs to the connection
// class the supervisor's retry loop should retry: selection timeouts and
// network-level connection failures.
func isRetriableConnectionError(err error) bool {
	return classifyMongoError(err) == "connection"
}
