package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/envqa/internal/config"
	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
	"github.com/kirillkom/envqa/internal/infrastructure/testset"
	"github.com/kirillkom/envqa/internal/observability/metrics"
)

const (
	serviceName       = "envqa-api"
	maxJSONBodyBytes  = 1 << 20
	maxUploadBytes    = 8 << 20
	backpressureDelay = 250 * time.Millisecond
)

// Services are the inbound ports the router exposes. Submitter and Runs may
// be nil when the job pipeline is not configured.
type Services struct {
	Answerer  ports.QuestionAnswerer
	Evaluator ports.Evaluator
	Grounding ports.GroundingVerifier
	Submitter ports.EvaluationSubmitter
	Runs      ports.EvaluationReader
}

type Router struct {
	cfg     config.Config
	svc     Services
	metrics *metrics.HTTPServerMetrics
}

func NewRouter(cfg config.Config, svc Services, m *metrics.HTTPServerMetrics) *Router {
	return &Router{cfg: cfg, svc: svc, metrics: m}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/answer", rt.answer)
	mux.HandleFunc("POST /v1/evaluate", rt.evaluate)
	mux.HandleFunc("POST /v1/grounding", rt.grounding)
	mux.HandleFunc("POST /v1/evaluations", rt.submitEvaluation)
	mux.HandleFunc("GET /v1/evaluations/{id}", rt.getEvaluation)

	var api http.Handler = mux
	api = backpressureMiddleware(api, rt.cfg.APIMaxInFlight, backpressureDelay)
	api = rateLimitMiddleware(api, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	root := http.NewServeMux()
	root.Handle("/", api)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req domain.AnswerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	start := time.Now()
	answer, err := rt.svc.Answerer.Answer(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	annotate(r.Context(), "question_type", string(answer.QuestionType), "contexts", len(answer.Contexts))
	if rt.metrics != nil {
		rt.metrics.RecordRAGObservation(serviceName, "answer", string(answer.QuestionType), len(answer.Contexts), time.Since(start))
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) evaluate(w http.ResponseWriter, r *http.Request) {
	tests, err := testset.Decode(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if len(tests) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "test set is empty"})
		return
	}

	report, err := rt.svc.Evaluator.Evaluate(r.Context(), tests)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	annotate(r.Context(), "items", len(report.Results), "failed", report.Metrics.Failed)
	if rt.metrics != nil {
		failed := report.Metrics.Failed
		rt.metrics.RecordEvaluationItems(serviceName, len(report.Results)-failed, failed)
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) grounding(w http.ResponseWriter, r *http.Request) {
	var req domain.GroundingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.GoldChunk) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "gold_chunk is required"})
		return
	}
	qtype, err := domain.ParseQuestionType(string(req.QuestionType))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	req.QuestionType = qtype

	verdict, err := rt.svc.Grounding.Verify(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	annotate(r.Context(), "grounded", verdict.Grounded, "decided_by", string(verdict.Evidence.DecidedBy))
	if rt.metrics != nil {
		rt.metrics.RecordGroundingCheck(serviceName, string(verdict.Evidence.DecidedBy), verdict.Grounded)
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (rt *Router) submitEvaluation(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Submitter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "evaluation jobs are not enabled"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	run, err := rt.svc.Submitter.Submit(r.Context(), fileHeader.Filename, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (rt *Router) getEvaluation(w http.ResponseWriter, r *http.Request) {
	if rt.svc.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "evaluation jobs are not enabled"})
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "evaluation id is required"})
		return
	}
	run, err := rt.svc.Runs.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		status = http.StatusRequestEntityTooLarge
	}
	if status >= 500 {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid json")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
