package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/resilience"
)

// jobMessage is the payload of an evaluation request. Older publishers sent the
// bare run ID; those payloads are still accepted.
type jobMessage struct {
	RunID       string    `json:"run_id"`
	RequestedAt time.Time `json:"requested_at"`
}

type requestedAtKey struct{}

// RequestedAt reports when the job being handled was published.
func RequestedAt(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(requestedAtKey{}).(time.Time)
	return t, ok
}

// Queue carries evaluation run IDs from the API to the worker pool. Workers in
// the same queue group share the subject, so each run is evaluated once.
type Queue struct {
	conn        *nats.Conn
	subject     string
	group       string
	maxInFlight int
	guard       *resilience.Guard
	now         func() time.Time
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	QueueGroup     string
	// MaxInFlight bounds concurrently evaluated runs per process.
	MaxInFlight int
	Guard       *resilience.Guard
}

func New(url, subject string, options Options) (*Queue, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "nats connect", errors.New("subject is required"))
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	group := options.QueueGroup
	if group == "" {
		group = "evaluators"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("envqa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:        conn,
		subject:     subject,
		group:       group,
		maxInFlight: max(options.MaxInFlight, 1),
		guard:       options.Guard,
		now:         time.Now,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishEvaluationRequested(ctx context.Context, runID string) error {
	msg, err := encodeJob(runID, q.now())
	if err != nil {
		return err
	}
	msg.Subject = q.subject

	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if q.guard != nil {
		err = q.guard.DoClassified(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// SubscribeEvaluationRequested blocks until ctx is done, then drains the
// subscription and waits for running handlers.
func (q *Queue) SubscribeEvaluationRequested(ctx context.Context, handler func(context.Context, string) error) error {
	slots := make(chan struct{}, q.maxInFlight)
	var running sync.WaitGroup

	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		job, err := decodeJob(msg.Data)
		if err != nil {
			slog.Error("evaluation_job_rejected", "subject", msg.Subject, "error", err)
			return
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		running.Add(1)
		go func() {
			defer running.Done()
			defer func() { <-slots }()

			handlerCtx := ctx
			if !job.RequestedAt.IsZero() {
				handlerCtx = context.WithValue(ctx, requestedAtKey{}, job.RequestedAt)
			}
			if err := handler(handlerCtx, job.RunID); err != nil {
				slog.Error("evaluation_job_failed", "run_id", job.RunID, "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	running.Wait()
	return nil
}

func encodeJob(runID string, at time.Time) (*nats.Msg, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "nats publish", errors.New("run id is required"))
	}
	data, err := json.Marshal(jobMessage{RunID: runID, RequestedAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	msg := nats.NewMsg("")
	msg.Header.Set(nats.MsgIdHdr, runID)
	msg.Data = data
	return msg, nil
}

func decodeJob(data []byte) (jobMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return jobMessage{}, domain.WrapError(domain.ErrInvalidInput, "decode job", errors.New("empty payload"))
	}
	if !strings.HasPrefix(trimmed, "{") {
		return jobMessage{RunID: trimmed}, nil
	}
	var job jobMessage
	if err := json.Unmarshal([]byte(trimmed), &job); err != nil {
		return jobMessage{}, domain.WrapError(domain.ErrInvalidInput, "decode job", err)
	}
	if strings.TrimSpace(job.RunID) == "" {
		return jobMessage{}, domain.WrapError(domain.ErrInvalidInput, "decode job", errors.New("run_id is required"))
	}
	return job, nil
}
