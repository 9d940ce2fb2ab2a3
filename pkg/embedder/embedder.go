// Package embedder defines the text-embedding boundary the memory engine
// calls through, plus a retrying decorator so callers never hand-roll
// backoff logic around a flaky provider.
package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Embedder turns text into a fixed-dimension vector. Implementations wrap a
// concrete provider (local model, HTTP API, ...); the engine only depends on
// this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// ErrPermanent marks an error WithRetry should not retry — wrap a
// provider error in it (via errors.Join or fmt.Errorf %w) when retrying
// would never help (bad request, auth failure, dimension mismatch).
var ErrPermanent = errors.New("embedder: permanent failure")

// RetryOptions configures WithRetry's backoff schedule.
type RetryOptions struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
}

// DefaultRetryOptions mirrors the engine-wide policy (exponential, 1s
// initial interval, capped total elapsed time).
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxElapsedTime:  15 * time.Second,
		InitialInterval: 1 * time.Second,
	}
}

type retrying struct {
	inner Embedder
	opts  RetryOptions
}

// WithRetry wraps inner so that every Embed call retries on transient
// errors with exponential backoff, bailing out immediately on errors
// wrapping ErrPermanent.
func WithRetry(inner Embedder, opts RetryOptions) Embedder {
	return &retrying{inner: inner, opts: opts}
}

func (r *retrying) Dim() int { return r.inner.Dim() }

func (r *retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	bo := backoff.NewExponentialBackOff()
	if r.opts.InitialInterval > 0 {
		bo.InitialInterval = r.opts.InitialInterval
	}
	bo.MaxElapsedTime = r.opts.MaxElapsedTime

	var out []float32
	err := backoff.Retry(func() error {
		v, err := r.inner.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, ErrPermanent) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}
