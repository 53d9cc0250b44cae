package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"appbackup/internal/logger"
)

type retryConfig struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	multiplier      float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:      5,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		maxElapsedTime:  5 * time.Minute,
		multiplier:      2.0,
	}
}

// retryOperation runs op with exponential backoff. Errors that look like
// authorization or client mistakes are not retried.
func retryOperation(ctx context.Context, log logger.Logger, name string, cfg retryConfig, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.initialInterval
	exp.MaxInterval = cfg.maxInterval
	exp.MaxElapsedTime = cfg.maxElapsedTime
	exp.Multiplier = cfg.multiplier
	exp.Reset()

	var b backoff.BackOff = exp
	if cfg.maxRetries > 0 {
		b = backoff.WithMaxRetries(exp, cfg.maxRetries)
	}
	b = backoff.WithContext(b, ctx)

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isPermanentError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if log != nil {
			log.Warn("Retrying storage operation", "operation", name, "wait", wait.String(), "error", err.Error())
		}
	}
	return backoff.RetryNotify(wrapped, b, notify)
}

// isPermanentError reports whether retrying cannot help.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanent := []string{
		"access denied",
		"forbidden",
		"unauthorized",
		"invalid credentials",
		"invalid access key",
		"nosuchbucket",
		"no such bucket",
		"nosuchkey",
		"not found",
		"invalid argument",
		"malformed",
		"permission denied",
	}
	for _, pattern := range permanent {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
