package nats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/envqa/internal/core/domain"
)

func TestEncodeJobCarriesRunIDAndDedupHeader(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encodeJob(" run-1 ", at)
	if err != nil {
		t.Fatalf("encodeJob() error = %v", err)
	}
	if got := msg.Header.Get(nats.MsgIdHdr); got != "run-1" {
		t.Fatalf("expected dedup header run-1, got %q", got)
	}

	var job jobMessage
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if job.RunID != "run-1" || !job.RequestedAt.Equal(at) {
		t.Fatalf("unexpected payload %+v", job)
	}
}

func TestEncodeJobRejectsBlankRunID(t *testing.T) {
	if _, err := encodeJob("  ", time.Now()); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDecodeJob(t *testing.T) {
	job, err := decodeJob([]byte(`{"run_id":"run-2","requested_at":"2024-05-01T12:00:00Z"}`))
	if err != nil {
		t.Fatalf("decodeJob() error = %v", err)
	}
	if job.RunID != "run-2" || job.RequestedAt.IsZero() {
		t.Fatalf("unexpected job %+v", job)
	}

	legacy, err := decodeJob([]byte("run-3\n"))
	if err != nil {
		t.Fatalf("decodeJob(legacy) error = %v", err)
	}
	if legacy.RunID != "run-3" || !legacy.RequestedAt.IsZero() {
		t.Fatalf("unexpected legacy job %+v", legacy)
	}

	for _, bad := range []string{"", "   ", `{"run_id":""}`, `{"run_id":`} {
		if _, err := decodeJob([]byte(bad)); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("decodeJob(%q) expected invalid input, got %v", bad, err)
		}
	}
}
