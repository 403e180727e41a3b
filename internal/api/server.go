// Package api implements the collection endpoint the widget delivers to.
package api

import (
	"bytes"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"feedback-widget/internal/config"
	"feedback-widget/internal/models"
	"feedback-widget/internal/ratelimit"
	"feedback-widget/internal/store"
	"feedback-widget/internal/telemetry"
	"feedback-widget/internal/transport"
)

// Server wires HTTP handlers for the collection endpoint.
type Server struct {
	cfg         config.Collector
	store       *store.Store
	screenshots *ScreenshotStore
	limiter     *ratelimit.TokenBucket
	validate    *validator.Validate
	dedupe      *gocache.Cache
	log         zerolog.Logger
}

// New constructs the API server. limiter and screenshots may be nil.
func New(cfg config.Collector, st *store.Store, screenshots *ScreenshotStore, limiter *ratelimit.TokenBucket, log zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		screenshots: screenshots,
		limiter:     limiter,
		validate:    validator.New(),
		dedupe:      gocache.New(time.Duration(cfg.DedupeTTLSec)*time.Second, 10*time.Minute),
		log:         log.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Head("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/feedback", s.handleSubmit)
		r.Get("/feedback", s.handleList)
		r.Get("/feedback/{id}", s.handleGet)
		r.Post("/feedback/{id}/screenshot", s.handleScreenshot)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Project-ID", "X-Queue-ID", "X-Signature"},
	})
	return c.Handler(r)
}

// submitRequest mirrors the widget's submission payload.
type submitRequest struct {
	Type           string          `json:"type" validate:"required,oneof=bug feature design"`
	Priority       string          `json:"priority" validate:"required,oneof=low medium high critical"`
	Title          string          `json:"title" validate:"required,max=200"`
	Description    string          `json:"description" validate:"required,max=10000"`
	SubmitterName  string          `json:"submitter_name" validate:"omitempty,max=200"`
	SubmitterEmail string          `json:"submitter_email" validate:"omitempty,email"`
	WidgetVersion  string          `json:"widget_version" validate:"omitempty,max=50"`
	Context        *models.Context `json:"context"`
}

type submitResponse struct {
	Success    bool   `json:"success"`
	FeedbackID string `json:"feedback_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// authenticate checks project id, API key, and (for signed bodies) the HMAC.
// The body is re-wrapped so downstream handlers can read it normally.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := r.Header.Get("X-Project-ID")
		key := bearerToken(r)
		if project != s.cfg.ProjectID || key != s.cfg.APIKey {
			telemetry.RejectedCounter.Inc()
			writeJSON(w, http.StatusUnauthorized, submitResponse{Error: "unknown project or invalid API key"})
			return
		}

		if sig := r.Header.Get("X-Signature"); sig != "" {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, submitResponse{Error: "unreadable body"})
				return
			}
			r.Body.Close()
			if !hmac.Equal([]byte(sig), []byte(transport.Signature(s.cfg.APIKey, body))) {
				telemetry.RejectedCounter.Inc()
				writeJSON(w, http.StatusUnauthorized, submitResponse{Error: "bad signature"})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+s.cfg.ProjectID)
		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, submitResponse{Error: "rate limited"})
			return
		}
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "invalid json"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		telemetry.RejectedCounter.Inc()
		writeJSON(w, http.StatusOK, submitResponse{Error: validationMessage(err)})
		return
	}

	queueID := r.Header.Get("X-Queue-ID")

	// Fast dedupe path for redelivered queue records; the unique index on
	// (project_id, queue_id) remains the real guard.
	if queueID != "" {
		if cached, found := s.dedupe.Get(queueID); found {
			telemetry.DuplicateCounter.Inc()
			writeJSON(w, http.StatusOK, submitResponse{Success: true, FeedbackID: cached.(string)})
			return
		}
	}

	id, duplicate, err := s.store.Insert(r.Context(), store.InsertParams{
		ProjectID: s.cfg.ProjectID,
		Submission: models.Submission{
			Type:           req.Type,
			Priority:       req.Priority,
			Title:          req.Title,
			Description:    req.Description,
			SubmitterName:  req.SubmitterName,
			SubmitterEmail: req.SubmitterEmail,
			WidgetVersion:  req.WidgetVersion,
			Context:        req.Context,
		},
		QueueID: queueID,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("insert feedback failed")
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "storage failure"})
		return
	}

	if queueID != "" {
		s.dedupe.SetDefault(queueID, id)
	}
	if duplicate {
		telemetry.DuplicateCounter.Inc()
	} else {
		telemetry.ReceivedCounter.Inc()
		s.log.Info().Str("feedback_id", id).Str("type", req.Type).Str("priority", req.Priority).Msg("feedback accepted")
	}
	writeJSON(w, http.StatusCreated, submitResponse{Success: true, FeedbackID: id})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fb, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, submitResponse{Error: "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.store.List(r.Context(), s.cfg.ProjectID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if s.screenshots == nil {
		writeJSON(w, http.StatusNotImplemented, submitResponse{Error: "screenshot storage not configured"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		writeJSON(w, http.StatusNotFound, submitResponse{Error: "not found"})
		return
	}

	if err := r.ParseMultipartForm(s.cfg.ScreenshotMaxBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "invalid multipart body"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Error: "image field missing"})
		return
	}
	defer file.Close()

	url, err := s.screenshots.Store(r.Context(), id, header.Filename, file)
	if err != nil {
		s.log.Error().Err(err).Str("feedback_id", id).Msg("screenshot store failed")
		writeJSON(w, http.StatusInternalServerError, submitResponse{Error: "screenshot storage failure"})
		return
	}
	if err := s.store.SetScreenshotURL(r.Context(), id, url); err != nil {
		s.log.Error().Err(err).Str("feedback_id", id).Msg("record screenshot url failed")
	}
	telemetry.ScreenshotCounter.Inc()
	writeJSON(w, http.StatusOK, submitResponse{Success: true, FeedbackID: id})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// validationMessage flattens the first validator error into the response text.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("invalid %s: failed %s validation", jsonFieldName(f.Field()), f.Tag())
	}
	return "invalid submission"
}

func jsonFieldName(structField string) string {
	// Struct fields map 1:1 to snake_case json names; Title -> title etc.
	out := make([]byte, 0, len(structField)+4)
	for i := 0; i < len(structField); i++ {
		c := structField[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
