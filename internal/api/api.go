// Package api exposes the mail transport and the batch tooling over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shineum/certmail-lite/internal/mail"
	"github.com/shineum/certmail-lite/internal/merge"
	"github.com/shineum/certmail-lite/internal/relay"
	"github.com/shineum/certmail-lite/internal/render"
	"github.com/shineum/certmail-lite/internal/table"
	"github.com/shineum/certmail-lite/internal/template"
)

// defaultMaxBodyBytes bounds request bodies; they carry base64 images.
const defaultMaxBodyBytes = 32 << 20

// Mailer sends one outbound message.
type Mailer interface {
	Send(ctx context.Context, msg *mail.Message) (mail.Receipt, error)
}

// Options configures the router. Nil Renderer or Driver leaves the
// matching endpoints unmounted.
type Options struct {
	Mailer       Mailer
	Renderer     render.Renderer
	Driver       *merge.Driver
	Metrics      http.Handler
	Logger       *slog.Logger
	MaxBodyBytes int64
}

type server struct {
	mailer   Mailer
	renderer render.Renderer
	driver   *merge.Driver
	logger   *slog.Logger
	maxBody  int64
}

// NewRouter returns the HTTP handler serving every endpoint.
func NewRouter(opts Options) http.Handler {
	s := &server{
		mailer:   opts.Mailer,
		renderer: opts.Renderer,
		driver:   opts.Driver,
		logger:   opts.Logger,
		maxBody:  opts.MaxBodyBytes,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if s.mailer != nil {
			r.Post("/mail", s.handleMail)
		}
		if s.renderer != nil {
			r.Post("/preview", s.handlePreview)
		}
		if s.driver != nil {
			r.Post("/batch", s.handleBatch)
		}
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMail is the mail transport endpoint.
func (s *server) handleMail(w http.ResponseWriter, r *http.Request) {
	var msg mail.Message
	if !s.decode(w, r, &msg) {
		return
	}

	receipt, err := s.mailer.Send(r.Context(), &msg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, mail.Response{Message: mail.SuccessMessage, MessageID: receipt.MessageID})
	case errors.Is(err, relay.ErrInvalidMessage):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

type previewRequest struct {
	Template template.Document `json:"template"`
	Row      table.Row         `json:"row"`
}

// handlePreview renders one row and returns the PNG.
func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !s.decode(w, r, &req) {
		return
	}

	tpl, err := req.Template.Resolve("")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	renderer, err := merge.ScopeRenderer(s.renderer, tpl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	img, err := merge.RenderRow(renderer, tpl, req.Row)
	if err != nil {
		var renderErr *render.RenderError
		if errors.As(err, &renderErr) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `inline; filename="`+mail.AttachmentName(req.Row.Email())+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

type batchRequest struct {
	Template       template.Document `json:"template"`
	Columns        []string          `json:"columns"`
	Rows           []table.Row       `json:"rows"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	SenderMail     string            `json:"senderMail"`
	SenderPassword string            `json:"senderPassword"`
}

// handleBatch runs a whole batch and returns the per-row result. The
// batch stops between rows when the client goes away.
func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, &req) {
		return
	}

	tpl, err := req.Template.Resolve("")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.driver.RunBatch(r.Context(), merge.Batch{
		Rows:     req.Rows,
		Columns:  req.Columns,
		Template: tpl,
		Subject:  req.Subject,
		Body:     req.Body,
		Sender:   merge.Sender{Address: req.SenderMail, Password: req.SenderPassword},
	})

	var verr *merge.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, merge.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, template.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// decode reads a JSON body into v, answering 400 or 413 on failure.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	return true
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, mail.Response{Error: err.Error()})
}
