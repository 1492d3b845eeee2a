package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/envqa/internal/core/domain"
)

func fastRetryConfig() Config {
	return Config{
		Retry: RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2},
	}
}

func TestDoRetriesTemporaryFailure(t *testing.T) {
	guard := NewGuard(fastRetryConfig())

	attempts := 0
	err := guard.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrTemporary, "generate", errors.New("502"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoDoesNotRetryInvalidInput(t *testing.T) {
	guard := NewGuard(fastRetryConfig())

	attempts := 0
	errBad := domain.WrapError(domain.ErrInvalidInput, "generate", errors.New("empty prompt"))
	err := guard.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return errBad
	})
	if !errors.Is(err, errBad) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoOpensCircuitAfterFailures(t *testing.T) {
	guard := NewGuard(Config{
		Retry: RetryPolicy{Attempts: 1, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2},
		Breaker: BreakerPolicy{
			Enabled:      true,
			MinRequests:  2,
			FailureRatio: 0.5,
			OpenFor:      50 * time.Millisecond,
			HalfOpenMax:  1,
		},
	})

	errDown := domain.WrapError(domain.ErrUnavailable, "generate", errors.New("connection refused"))
	for i := 0; i < 2; i++ {
		err := guard.Do(context.Background(), "op", func(context.Context) error { return errDown })
		if !errors.Is(err, errDown) {
			t.Fatalf("expected backend error on iteration %d, got %v", i, err)
		}
	}

	err := guard.Do(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected open circuit to map to unavailable, got %v", err)
	}
}

type flakyGenerator struct {
	calls int
}

func (f *flakyGenerator) Generate(_ context.Context, prompt string, maxLength int) (string, error) {
	f.calls++
	if f.calls == 1 {
		return "", domain.WrapError(domain.ErrTemporary, "generate", errors.New("timeout"))
	}
	return prompt + "!", nil
}

func TestWrapGeneratorRetries(t *testing.T) {
	inner := &flakyGenerator{}
	gen := WrapGenerator(inner, NewGuard(fastRetryConfig()))

	out, err := gen.Generate(context.Background(), "hi", 16)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "hi!" || inner.calls != 2 {
		t.Fatalf("unexpected result %q after %d calls", out, inner.calls)
	}
}

func TestWrapGeneratorNilGuardReturnsInner(t *testing.T) {
	inner := &flakyGenerator{}
	if got := WrapGenerator(inner, nil); got != inner {
		t.Fatalf("expected inner generator when guard is nil")
	}
}
