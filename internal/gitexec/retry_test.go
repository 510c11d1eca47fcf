package gitexec

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/blueprint/internal/logging"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func response(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryConfig_ApplyDefaults(t *testing.T) {
	cfg := RetryConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultRetryConfig(), cfg)

	cfg = RetryConfig{MaxRetries: 5, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute, BackoffMultiplier: 3}
	cfg.ApplyDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
	assert.Equal(t, time.Minute, cfg.MaxBackoff)
	assert.Equal(t, 3.0, cfg.BackoffMultiplier)
}

func TestRetryGitHubOperation(t *testing.T) {
	ctx := context.Background()
	log := logging.NewTestLogger()

	t.Run("success after transient errors", func(t *testing.T) {
		calls := 0
		resp, err := retryGitHubOperation(ctx, fastRetry(), log.Logger, "get_repo", func() (*github.Response, error) {
			calls++
			if calls < 3 {
				return response(http.StatusBadGateway), errors.New("bad gateway")
			}
			return response(http.StatusOK), nil
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 3, calls)
		log.AssertLogged(t, zapcore.InfoLevel, "recovered after retries")
	})

	t.Run("non-retryable stops at once", func(t *testing.T) {
		calls := 0
		_, err := retryGitHubOperation(ctx, fastRetry(), log.Logger, "get_repo", func() (*github.Response, error) {
			calls++
			return response(http.StatusNotFound), errors.New("not found")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		resp, err := retryGitHubOperation(ctx, fastRetry(), log.Logger, "get_repo", func() (*github.Response, error) {
			calls++
			return response(http.StatusServiceUnavailable), errors.New("unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls)
		assert.Equal(t, http.StatusServiceUnavailable, getStatusCode(resp))
		assert.Contains(t, err.Error(), "after 3 retries")
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cfg := fastRetry()
		cfg.InitialBackoff = time.Hour
		cfg.MaxBackoff = time.Hour
		calls := 0
		_, err := retryGitHubOperation(cctx, cfg, log.Logger, "get_repo", func() (*github.Response, error) {
			calls++
			cancel()
			return response(http.StatusBadGateway), errors.New("bad gateway")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestIsGitHubRetryableError(t *testing.T) {
	rateLimited := response(http.StatusForbidden)
	rateLimited.Rate = github.Rate{Limit: 5000, Remaining: 0}

	tests := []struct {
		name string
		resp *github.Response
		want bool
	}{
		{"no response", nil, true},
		{"429", response(http.StatusTooManyRequests), true},
		{"500", response(http.StatusInternalServerError), true},
		{"502", response(http.StatusBadGateway), true},
		{"504", response(http.StatusGatewayTimeout), true},
		{"400", response(http.StatusBadRequest), false},
		{"401", response(http.StatusUnauthorized), false},
		{"403 plain", response(http.StatusForbidden), false},
		{"403 rate limited", rateLimited, true},
		{"404", response(http.StatusNotFound), false},
		{"422", response(http.StatusUnprocessableEntity), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isGitHubRetryableError(errors.New("x"), tt.resp))
		})
	}
	assert.False(t, isGitHubRetryableError(nil, nil))
}

func TestGetRateLimitBackoff(t *testing.T) {
	resp := response(http.StatusForbidden)
	resp.Rate = github.Rate{Limit: 60, Remaining: 0, Reset: github.Timestamp{Time: time.Now().Add(time.Hour)}}
	assert.Equal(t, 30*time.Second, getRateLimitBackoff(resp, 30*time.Second))

	resp.Rate.Reset = github.Timestamp{Time: time.Now().Add(-time.Minute)}
	assert.Equal(t, time.Second, getRateLimitBackoff(resp, 30*time.Second))
}
