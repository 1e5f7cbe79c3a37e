// Package retry retries alert invocations that failed on a transient
// collaborator error. Retrying is safe because a repeated invocation never
// resubscribes a pending endpoint and the publish ledger suppresses a second
// publish.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/lib/pq"

	"quake-alerts/internal/events"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultConfig returns the retry settings used by the Kafka consumer.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// SNS error codes worth another attempt.
var retryableCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"ThrottledException":       true,
	"RequestLimitExceeded":     true,
	"TooManyRequestsException": true,
	"InternalError":            true,
	"InternalErrorException":   true,
	"ServiceUnavailable":       true,
	"RequestTimeout":           true,
	"KMSThrottlingException":   true,
}

// IsRetryable reports whether err is transient. Validation and configuration
// errors never are; throttling, timeouts and lost connections are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var verr *events.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception. Class 57: operator intervention.
		class := string(pqErr.Code.Class())
		return class == "08" || class == "57"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	nonRetryable := []string{
		"configuration error", // Deployment or request settings are wrong
		"invalid",             // Invalid request
		"not found",           // Missing topic or subscriber
		"malformed",           // Bad request format
	}
	for _, s := range nonRetryable {
		if strings.Contains(errStr, s) {
			return false
		}
	}

	retryable := []string{
		"timeout",            // Network timeout
		"connection refused", // Service temporarily unavailable
		"connection reset",   // Network hiccup
		"broken pipe",        // Dropped connection
		"temporary",          // Explicit temporary error
		"throttl",            // Throttling
		"rate exceeded",      // SNS rate limiting
		"503",                // Service unavailable
		"502",                // Bad gateway
		"504",                // Gateway timeout
		"try again",          // Server suggests retry
	}
	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// WithRetry executes fn with exponential backoff, retrying only errors
// IsRetryable accepts.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"operation", operation,
					"attempt", attempt+1,
				)
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			slog.Debug("Error is not retryable, failing immediately",
				"operation", operation,
				"error", err,
			)
			return err
		}

		if attempt >= cfg.MaxRetries {
			slog.Warn("Max retries exceeded",
				"operation", operation,
				"attempts", attempt+1,
				"error", err,
			)
			return err
		}

		backoff := calculateBackoff(cfg, attempt)

		slog.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}

// calculateBackoff returns initial * factor^attempt, capped at MaxBackoff,
// with ±25% jitter.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	return time.Duration(backoff)
}
