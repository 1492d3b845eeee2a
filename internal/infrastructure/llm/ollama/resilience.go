package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/envqa/internal/core/domain"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// classifyError tags transport failures with a domain kind so the resilience
// guard can tell retryable errors from caller mistakes.
func classifyError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case isRetryableHTTPStatus(statusErr.StatusCode):
			return domain.WrapError(domain.ErrTemporary, "ollama "+operation, err)
		case statusErr.StatusCode == http.StatusNotFound:
			return domain.WrapError(domain.ErrUnavailable, "ollama "+operation, err)
		case statusErr.StatusCode == http.StatusBadRequest:
			return domain.WrapError(domain.ErrInvalidInput, "ollama "+operation, err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.WrapError(domain.ErrTemporary, "ollama "+operation, err)
		}
		return domain.WrapError(domain.ErrUnavailable, "ollama "+operation, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.WrapError(domain.ErrUnavailable, "ollama "+operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
