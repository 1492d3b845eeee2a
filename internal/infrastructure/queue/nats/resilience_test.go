package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/envqa/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantRecord    bool
	}{
		{name: "nil", err: nil},
		{name: "canceled", err: context.Canceled},
		{name: "no servers", err: fmt.Errorf("nats publish: %w", nats.ErrNoServers), wantRetryable: true, wantRecord: true},
		{name: "closed", err: nats.ErrConnectionClosed, wantRetryable: true, wantRecord: true},
		{name: "bad subject", err: nats.ErrBadSubject, wantRecord: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyNATSError(tt.err)
			if got.Retryable != tt.wantRetryable || got.RecordFailure != tt.wantRecord {
				t.Fatalf("classifyNATSError(%v) = %+v", tt.err, got)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected timeout to be temporary, got %v", err)
	}
	plain := errors.New("bad payload")
	if err := wrapTemporaryIfNeeded(plain); err != plain {
		t.Fatalf("expected non-connection error unchanged, got %v", err)
	}
	if err := wrapTemporaryIfNeeded(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
