package chatapi

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeChat struct {
	// calls[model] counts invocations per model name.
	calls     map[string]int
	failModel map[string]int // how many times to fail before succeeding, per model
	permanent map[string]bool
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		calls:     map[string]int{},
		failModel: map[string]int{},
		permanent: map[string]bool{},
	}
}

func (f *fakeChat) Complete(ctx context.Context, model, prompt string, opts CompleteOptions) (string, error) {
	f.calls[model]++
	if f.calls[model] <= f.failModel[model] {
		if f.permanent[model] {
			return "", fmt.Errorf("rejected by %s: %w", model, ErrPermanent)
		}
		return "", fmt.Errorf("transient error from %s", model)
	}
	return "ok from " + model, nil
}

func TestWithRetry_SucceedsOnPrimaryModel(t *testing.T) {
	fake := newFakeChat()
	fake.failModel["gpt-a"] = 1
	c := WithRetry(fake, RetryOptions{MaxElapsedTime: time.Second, InitialInterval: time.Millisecond})

	out, err := c.Complete(context.Background(), "gpt-a", "hi", CompleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok from gpt-a" {
		t.Errorf("expected primary model result, got %q", out)
	}
	if fake.calls["gpt-b"] != 0 {
		t.Errorf("fallback model should not have been called, got %d calls", fake.calls["gpt-b"])
	}
}

func TestWithRetry_FallsBackToSecondModel(t *testing.T) {
	fake := newFakeChat()
	fake.failModel["gpt-a"] = 1000 // primary never recovers within its budget
	c := WithRetry(fake, RetryOptions{
		MaxElapsedTime:  5 * time.Millisecond,
		InitialInterval: time.Millisecond,
		FallbackModels:  []string{"gpt-b"},
	})

	out, err := c.Complete(context.Background(), "gpt-a", "hi", CompleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok from gpt-b" {
		t.Errorf("expected fallback model result, got %q", out)
	}
	if fake.calls["gpt-a"] == 0 {
		t.Error("expected primary model to have been attempted")
	}
}

func TestWithRetry_PermanentErrorSkipsToFallback(t *testing.T) {
	fake := newFakeChat()
	fake.failModel["gpt-a"] = 1000
	fake.permanent["gpt-a"] = true
	c := WithRetry(fake, RetryOptions{
		MaxElapsedTime:  time.Second,
		InitialInterval: time.Millisecond,
		FallbackModels:  []string{"gpt-b"},
	})

	out, err := c.Complete(context.Background(), "gpt-a", "hi", CompleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok from gpt-b" {
		t.Errorf("expected fallback result, got %q", out)
	}
	if fake.calls["gpt-a"] != 1 {
		t.Errorf("permanent error should stop retrying gpt-a after 1 call, got %d", fake.calls["gpt-a"])
	}
}

func TestWithRetry_AllModelsExhausted(t *testing.T) {
	fake := newFakeChat()
	fake.failModel["gpt-a"] = 1000
	fake.failModel["gpt-b"] = 1000
	c := WithRetry(fake, RetryOptions{
		MaxElapsedTime:  5 * time.Millisecond,
		InitialInterval: time.Millisecond,
		FallbackModels:  []string{"gpt-b"},
	})

	_, err := c.Complete(context.Background(), "gpt-a", "hi", CompleteOptions{})
	if err == nil {
		t.Fatal("expected error when every model is exhausted")
	}
	if errors.Is(err, context.Canceled) {
		t.Errorf("unexpected context cancellation: %v", err)
	}
}
