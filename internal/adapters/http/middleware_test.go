package httpadapter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/envqa/internal/config"
)

func TestClientRequestID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "abc-123", want: true},
		{in: "  trace-7  ", want: true},
		{in: "", want: false},
		{in: "has space", want: false},
		{in: "line\nbreak", want: false},
		{in: strings.Repeat("x", maxRequestIDLength+1), want: false},
	}
	for _, tt := range tests {
		if _, ok := clientRequestID(tt.in); ok != tt.want {
			t.Fatalf("clientRequestID(%q) ok = %v, want %v", tt.in, ok, tt.want)
		}
	}
}

func TestRequestIDMiddlewareReplacesUnsafeID(t *testing.T) {
	handler := newTestHandler(config.Config{}, Services{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "bad id\twith tabs")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	got := res.Header().Get(requestIDHeader)
	if got == "" || strings.Contains(got, " ") {
		t.Fatalf("expected generated request id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-42")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); got != "trace-42" {
		t.Fatalf("expected caller request id to be kept, got %q", got)
	}
}

func TestAccessLogCarriesAnswerNotes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	handler := newTestHandler(config.Config{}, Services{})
	res := postJSON(handler, "/v1/answer", map[string]any{"question": "List renewable sources"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var accessLine map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == "http_request" {
			accessLine = entry
		}
	}
	if accessLine == nil {
		t.Fatalf("no http_request line in %q", buf.String())
	}
	if accessLine["question_type"] != "list" || accessLine["contexts"] != float64(0) {
		t.Fatalf("expected answer notes on access line, got %v", accessLine)
	}
}
