package embedder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeEmbedder struct {
	dim       int
	failN     int
	calls     int
	permanent bool
}

func (f *fakeEmbedder) Dim() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.calls <= f.failN {
		if f.permanent {
			return nil, fmt.Errorf("bad request: %w", ErrPermanent)
		}
		return nil, errors.New("transient provider error")
	}
	return []float32{1, 2, 3}, nil
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	fake := &fakeEmbedder{dim: 3, failN: 2}
	e := WithRetry(fake, RetryOptions{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond})

	out, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(out))
	}
	if fake.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", fake.calls)
	}
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	fake := &fakeEmbedder{dim: 3, failN: 5, permanent: true}
	e := WithRetry(fake, RetryOptions{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond})

	_, err := e.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("expected ErrPermanent, got %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("expected exactly 1 call before giving up, got %d", fake.calls)
	}
}

func TestWithRetry_GivesUpAfterMaxElapsed(t *testing.T) {
	fake := &fakeEmbedder{dim: 3, failN: 1000}
	e := WithRetry(fake, RetryOptions{MaxElapsedTime: 20 * time.Millisecond, InitialInterval: time.Millisecond})

	_, err := e.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error after exhausting backoff budget")
	}
}

func TestWithRetry_Dim(t *testing.T) {
	fake := &fakeEmbedder{dim: 7}
	e := WithRetry(fake, DefaultRetryOptions())
	if e.Dim() != 7 {
		t.Errorf("expected Dim() passthrough of 7, got %d", e.Dim())
	}
}
