// Package api exposes generation and template management over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"recurring-planner/internal/recurrence"
	"recurring-planner/internal/service"
	"recurring-planner/internal/store"
)

// Generator runs one generation batch.
type Generator interface {
	Generate(ctx context.Context, now time.Time) (service.Report, error)
}

// HandlerFunc is a handler that returns its reply instead of writing it.
type HandlerFunc func(ctx context.Context, r *http.Request) Encoder

// Server provides HTTP APIs for triggering generation and editing templates.
type Server struct {
	gen       Generator
	templates *service.TemplateService
	now       func() time.Time
	loc       *time.Location
	timeout   time.Duration
	log       *zap.Logger
	mux       *http.ServeMux
}

// Option customizes a Server.
type Option func(*Server)

// WithClock replaces time.Now as the source of the generation time.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLocation sets the zone a ?date= day is read in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithBatchTimeout bounds each generation request.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

func NewServer(gen Generator, templates *service.TemplateService, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		gen:       gen,
		templates: templates,
		now:       time.Now,
		loc:       time.UTC,
		log:       log.Named("api"),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux wrapped in request logging and panic recovery.
func (s *Server) Handler() http.Handler {
	return logRequests(s.log, recoverPanics(s.log, s.mux))
}

func (s *Server) registerRoutes() {
	s.handle("GET /healthz", s.handleHealth)
	s.handle("POST /generate-recurring-tasks", s.handleGenerate)
	s.handle("POST /templates", s.handleCreateTemplate)
	s.handle("GET /templates", s.handleListTemplates)
	s.handle("GET /templates/{id}", s.handleGetTemplate)
	s.handle("PATCH /templates/{id}/pattern", s.handleUpdatePattern)
	s.handle("POST /templates/{id}/pause", s.handleSetActive(false))
	s.handle("POST /templates/{id}/resume", s.handleSetActive(true))
	s.handle("GET /templates/{id}/instances", s.handleListInstances)
}

func (s *Server) handle(pattern string, h HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if err := respond(r.Context(), w, h(r.Context(), r)); err != nil {
			s.log.Warn("write response", zap.String("path", r.URL.Path), zap.Error(err))
		}
	})
}

func (s *Server) handleHealth(context.Context, *http.Request) Encoder {
	return NewJSONResponse(map[string]string{"status": "ok"})
}

// handleGenerate runs one batch. An optional ?date=YYYY-MM-DD runs it as of
// that day instead of now.
func (s *Server) handleGenerate(ctx context.Context, r *http.Request) Encoder {
	now := s.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, s.loc)
		if err != nil {
			return NewError(http.StatusBadRequest, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw))
		}
		now = d
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.gen.Generate(ctx, now)
	if err != nil {
		s.log.Error("generation request failed", zap.Error(err))
		return NewJSONResponseWithStatus(generateFailure{
			Success:   false,
			Error:     err.Error(),
			Timestamp: report.Timestamp,
		}, http.StatusInternalServerError)
	}
	return NewJSONResponse(newGenerateSuccess(report))
}

func (s *Server) handleCreateTemplate(ctx context.Context, r *http.Request) Encoder {
	var req templateRequest
	if resp := decodeJSON(r, &req); resp != nil {
		return resp
	}
	input, err := req.input()
	if err != nil {
		return errorResponse(err)
	}
	t, err := s.templates.CreateTemplate(ctx, input)
	if err != nil {
		return s.failure("create template", err)
	}
	return NewJSONResponseWithStatus(newTemplateView(*t, s.templates.RRule(*t)), http.StatusCreated)
}

func (s *Server) handleListTemplates(ctx context.Context, r *http.Request) Encoder {
	var userID uint
	if raw := r.URL.Query().Get("userId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return NewError(http.StatusBadRequest, fmt.Sprintf("invalid userId %q", raw))
		}
		userID = uint(id)
	}
	templates, err := s.templates.List(ctx, userID)
	if err != nil {
		return s.failure("list templates", err)
	}
	views := make([]templateView, len(templates))
	for i, t := range templates {
		views[i] = newTemplateView(t, s.templates.RRule(t))
	}
	return NewJSONResponse(views)
}

func (s *Server) handleGetTemplate(ctx context.Context, r *http.Request) Encoder {
	id, resp := templateID(r)
	if resp != nil {
		return resp
	}
	t, err := s.templates.Get(ctx, id)
	if err != nil {
		return s.failure("get template", err)
	}
	return NewJSONResponse(newTemplateView(*t, s.templates.RRule(*t)))
}

func (s *Server) handleUpdatePattern(ctx context.Context, r *http.Request) Encoder {
	id, resp := templateID(r)
	if resp != nil {
		return resp
	}
	var req patternRequest
	if resp := decodeJSON(r, &req); resp != nil {
		return resp
	}
	in, err := req.input()
	if err != nil {
		return errorResponse(err)
	}
	t, err := s.templates.UpdatePattern(ctx, id, in)
	if err != nil {
		return s.failure("update pattern", err)
	}
	return NewJSONResponse(newTemplateView(*t, s.templates.RRule(*t)))
}

func (s *Server) handleSetActive(active bool) HandlerFunc {
	return func(ctx context.Context, r *http.Request) Encoder {
		id, resp := templateID(r)
		if resp != nil {
			return resp
		}
		op, set := "pause template", s.templates.Pause
		if active {
			op, set = "resume template", s.templates.Resume
		}
		if err := set(ctx, id); err != nil {
			return s.failure(op, err)
		}
		return noContent{}
	}
}

func (s *Server) handleListInstances(ctx context.Context, r *http.Request) Encoder {
	id, resp := templateID(r)
	if resp != nil {
		return resp
	}
	tasks, err := s.templates.Instances(ctx, id)
	if err != nil {
		return s.failure("list instances", err)
	}
	views := make([]instanceView, len(tasks))
	for i, t := range tasks {
		views[i] = newInstanceView(t)
	}
	return NewJSONResponse(views)
}

// failure maps a service error to a reply, logging the unexpected ones.
func (s *Server) failure(op string, err error) Encoder {
	resp := errorResponse(err)
	if resp.HTTPStatus() >= http.StatusInternalServerError {
		s.log.Error(op, zap.Error(err))
	}
	return resp
}

func errorResponse(err error) *ErrorResponse {
	var invalid *recurrence.InvalidPatternError
	switch {
	case errors.As(err, &invalid):
		return &ErrorResponse{Status: http.StatusBadRequest, Error: recurrence.ErrInvalidPattern.Error(), Violations: invalid.Violations}
	case errors.Is(err, service.ErrInvalidTemplate), errors.Is(err, errBadInput):
		return NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return NewError(http.StatusNotFound, err.Error())
	default:
		return NewError(http.StatusInternalServerError, "internal server error")
	}
}

func templateID(r *http.Request) (uint, Encoder) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, NewError(http.StatusBadRequest, fmt.Sprintf("invalid template id %q", raw))
	}
	return uint(id), nil
}

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, dst any) Encoder {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
