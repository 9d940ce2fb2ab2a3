// Package chatapi defines the chat-completion boundary the memory engine
// calls through for classification and summarization prompts, plus a
// retrying/fallback decorator.
package chatapi

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CompleteOptions carries per-call generation parameters.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// Chat completes a single prompt against a named model.
type Chat interface {
	Complete(ctx context.Context, model, prompt string, opts CompleteOptions) (string, error)
}

// ErrPermanent marks an error WithRetry does not retry against the same
// model; the next fallback model, if any, is still tried.
var ErrPermanent = errors.New("chatapi: permanent failure")

// RetryOptions configures WithRetry's backoff schedule and fallback chain.
type RetryOptions struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	// FallbackModels, if non-empty, are tried in order (after the
	// caller-supplied model has exhausted its own retry budget) before
	// WithRetry gives up entirely.
	FallbackModels []string
}

// DefaultRetryOptions mirrors the engine-wide policy (waits of 1s, 3s and
// 9s: at most 3 retries within 15s before falling back).
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxElapsedTime:  15 * time.Second,
		InitialInterval: 1 * time.Second,
	}
}

type retrying struct {
	inner Chat
	opts  RetryOptions
}

// WithRetry wraps inner so Complete retries transient errors up to 3 times
// against the requested model, tripling the wait from InitialInterval each
// time and stopping early once MaxElapsedTime has passed, then walks
// opts.FallbackModels in order before giving up.
func WithRetry(inner Chat, opts RetryOptions) Chat {
	return &retrying{inner: inner, opts: opts}
}

func (r *retrying) Complete(ctx context.Context, model, prompt string, opts CompleteOptions) (string, error) {
	models := append([]string{model}, r.opts.FallbackModels...)

	var lastErr error
	for i, m := range models {
		out, err := r.completeWithRetry(ctx, m, prompt, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) && i == len(models)-1 {
			break
		}
	}
	return "", lastErr
}

func (r *retrying) completeWithRetry(ctx context.Context, model, prompt string, opts CompleteOptions) (string, error) {
	bo := backoff.NewExponentialBackOff()
	if r.opts.InitialInterval > 0 {
		bo.InitialInterval = r.opts.InitialInterval
	}
	bo.Multiplier = 3
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = r.opts.MaxElapsedTime

	var out string
	err := backoff.Retry(func() error {
		v, err := r.inner.Complete(ctx, model, prompt, opts)
		if err != nil {
			if errors.Is(err, ErrPermanent) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
	if err != nil {
		return "", err
	}
	return out, nil
}
