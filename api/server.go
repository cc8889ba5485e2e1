// Package api exposes the negotiation engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/negotiatorai/negotiator/negotiation"
	"github.com/negotiatorai/negotiator/workflow"
	"github.com/negotiatorai/negotiator/workflow/emit"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20

// Engine is the subset of *workflow.Engine the handlers call.
type Engine interface {
	Start(ctx context.Context, in workflow.StartInput) (workflow.Result, error)
	Resume(ctx context.Context, runID string, in workflow.ResumeInput) (workflow.Result, error)
	Get(ctx context.Context, runID string) (workflow.Result, error)
}

// History returns the recorded events of a run.
type History interface {
	GetHistory(runID string) []emit.Event
}

// Server serves the negotiation API.
type Server struct {
	engine         Engine
	history        History
	gatherer       prometheus.Gatherer
	logger         *slog.Logger
	requestTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithHistory enables GET /negotiations/{id}/events.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetricsGatherer serves gathered metrics on GET /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestTimeout bounds each start or approve call. Zero leaves the
// request context alone.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// NewServer creates a Server for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHTTPHandlers registers the API on mux:
//
//	POST /negotiations
//	GET  /negotiations/{id}
//	POST /negotiations/{id}/approve
//	GET  /negotiations/{id}/events
//	GET  /healthz
//	GET  /metrics
//
// POST /webhook/email and POST /approve/{id} are accepted as aliases for
// starting and approving a run.
func (s *Server) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /negotiations", s.handleStart)
	mux.HandleFunc("GET /negotiations/{id}", s.handleGet)
	mux.HandleFunc("POST /negotiations/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /webhook/email", s.handleStart)
	mux.HandleFunc("POST /approve/{id}", s.handleApprove)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.history != nil {
		mux.HandleFunc("GET /negotiations/{id}/events", s.handleEvents)
	}
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns a mux with every handler registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterHTTPHandlers(mux)
	return mux
}

// StartRequest is the body of POST /negotiations.
type StartRequest struct {
	// RunID is optional; the server mints one when empty.
	RunID     string `json:"run_id,omitempty"`
	EmailBody string `json:"email_body"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// ApproveRequest is the body of POST /negotiations/{id}/approve. An empty
// body approves the draft as is.
type ApproveRequest struct {
	EditedText *string `json:"edited_text,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response wraps a run result and, on failure, the error.
type Response struct {
	Result *workflow.Result `json:"result,omitempty"`
	Error  *ErrorBody       `json:"error,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	res, err := s.engine.Start(ctx, workflow.StartInput{
		RunID: req.RunID,
		Offer: negotiation.Offer{
			Text:      req.EmailBody,
			From:      req.From,
			To:        req.To,
			Subject:   req.Subject,
			MessageID: req.MessageID,
			ThreadID:  req.ThreadID,
		},
	})
	if err != nil {
		s.writeError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Result: &res})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	res, err := s.engine.Resume(ctx, r.PathValue("id"), workflow.ResumeInput{Override: req.EditedText})
	if err != nil {
		s.writeError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: &res})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Result: &res})
}

// EventView is one entry of GET /negotiations/{id}/events.
type EventView struct {
	Stage  string                 `json:"stage,omitempty"`
	Status string                 `json:"status,omitempty"`
	Msg    string                 `json:"msg"`
	Time   time.Time              `json:"time"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.engine.Get(r.Context(), id); err != nil {
		s.writeError(w, r, workflow.Result{}, err)
		return
	}

	events := s.history.GetHistory(id)
	views := make([]EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, EventView{Stage: ev.Stage, Status: ev.Status, Msg: ev.Msg, Time: ev.Time, Meta: ev.Meta})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst. With allowEmpty an absent body leaves
// dst zero.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		s.logger.Debug("Rejected request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, Response{Error: &ErrorBody{
			Code:    workflow.CodeValidation,
			Message: "invalid request body: " + err.Error(),
		}})
		return false
	}
	return true
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.requestTimeout)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, res workflow.Result, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "code", code, "error", err)
	} else {
		s.logger.Debug("Request rejected", "path", r.URL.Path, "code", code, "error", err)
	}

	body := Response{Error: &ErrorBody{Code: code, Message: err.Error()}}
	if res.RunID != "" {
		body.Result = &res
	}
	writeJSON(w, status, body)
}

// statusFor maps an engine error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	code := "INTERNAL_ERROR"
	var ee *workflow.EngineError
	if errors.As(err, &ee) {
		code = ee.Code
	}

	switch {
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest, code
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound, code
	case errors.Is(err, workflow.ErrOverrideRejected), errors.Is(err, workflow.ErrExtraction):
		return http.StatusUnprocessableEntity, code
	case errors.Is(err, workflow.ErrGateExpired):
		return http.StatusGone, code
	case errors.Is(err, workflow.ErrRunFailed):
		return http.StatusConflict, code
	case errors.Is(err, workflow.ErrDispatch):
		return http.StatusBadGateway, code
	case errors.Is(err, workflow.ErrStore):
		return http.StatusServiceUnavailable, code
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
