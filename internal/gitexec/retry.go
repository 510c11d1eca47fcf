package gitexec

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/blueprint/internal/logging"
)

// RetryConfig configures retries for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. Default: 3
	MaxRetries int

	// InitialBackoff is the first wait. Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including rate-limit waits. Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each retry. Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryGitHubOperation retries op with exponential backoff. Rate-limited
// responses wait until the reported reset, capped at MaxBackoff.
func retryGitHubOperation(ctx context.Context, cfg RetryConfig, log *logging.Logger, opName string, op func() (*github.Response, error)) (*github.Response, error) {
	cfg.ApplyDefaults()

	var (
		lastErr  error
		lastResp *github.Response
		backoff  = cfg.InitialBackoff
		start    = time.Now()
	)

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			if attempt > 0 {
				log.Info(ctx, "GitHub API operation recovered after retries",
					zap.String("op", opName),
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if !isGitHubRetryableError(err, resp) {
			log.Debug(ctx, "GitHub API error is not retryable",
				zap.String("op", opName),
				zap.Error(err),
				zap.Int("status_code", getStatusCode(resp)),
			)
			return resp, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimitError(resp) {
			backoff = getRateLimitBackoff(resp, cfg.MaxBackoff)
		}
		log.Info(ctx, "retrying GitHub API operation",
			zap.String("op", opName),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Int("status_code", getStatusCode(resp)),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	log.Warn(ctx, "GitHub API operation failed after all retries",
		zap.String("op", opName),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Int("status_code", getStatusCode(lastResp)),
		zap.Error(lastErr),
	)
	return lastResp, fmt.Errorf("GitHub API operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// isGitHubRetryableError reports whether a GitHub API error is transient.
func isGitHubRetryableError(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}

	if resp != nil && resp.Response != nil {
		switch code := resp.Response.StatusCode; code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case http.StatusForbidden:
			// Secondary rate limits come back as 403 with rate headers.
			return isRateLimitError(resp)
		default:
			return code >= 500 && code < 600
		}
	}

	// No response: network errors and timeouts.
	return true
}

func isRateLimitError(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	code := resp.Response.StatusCode
	if code != http.StatusTooManyRequests && code != http.StatusForbidden {
		return false
	}
	return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
}

func getRateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return maxBackoff
	}

	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < 0 {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func getStatusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
