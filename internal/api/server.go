package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/manipulatr/internal/canvas"
	"github.com/dunamismax/manipulatr/internal/pipeline"
	"github.com/dunamismax/manipulatr/internal/scanner"
)

const (
	DefaultMaxBody = 5 << 20

	HeaderSwapped = "X-Manipulatr-Swapped"
	HeaderSkipped = "X-Manipulatr-Skipped"
	HeaderFailed  = "X-Manipulatr-Failed"
)

// Engine is the part of *engine.Engine the API serves.
type Engine interface {
	RenderDocument(ctx context.Context, r io.Reader, w io.Writer, base string) (scanner.Report, error)
	Transforms() []string
	Capability() canvas.Capability
	Metrics() prometheus.Gatherer
}

type Server struct {
	logger  zerolog.Logger
	engine  Engine
	maxBody int64
	metrics *metrics
	tracer  trace.Tracer
	mux     *http.ServeMux
}

func NewServer(logger zerolog.Logger, engine Engine, maxBody int64) *Server {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}

	s := &Server{
		logger:  logger,
		engine:  engine,
		maxBody: maxBody,
		metrics: newMetrics(),
		tracer:  otel.Tracer("manipulatr/api"),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /v1/transforms", s.handleTransforms)
	s.mux.HandleFunc("POST /v1/render", s.handleRender)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler(s.engine.Metrics()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"canvas": s.engine.Capability().String(),
	})
}

func (s *Server) handleTransforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"transforms": s.engine.Transforms()})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	base, err := renderBase(r.URL.Query().Get("base"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("document exceeds %d bytes", s.maxBody),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	s.metrics.requestBytes.Observe(float64(len(body)))

	var out bytes.Buffer
	report, err := s.engine.RenderDocument(r.Context(), bytes.NewReader(body), &out, base)
	if err != nil {
		s.logger.Error().Err(err).Str("base", base).Msg("render document failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to render document"})
		return
	}

	s.logger.Info().
		Str("base", base).
		Int("swapped", report.Count(pipeline.Swapped)).
		Int("skipped", report.Count(pipeline.Skipped)).
		Int("failed", report.Count(pipeline.Failed)).
		Msg("document rendered")

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set(HeaderSwapped, strconv.Itoa(report.Count(pipeline.Swapped)))
	h.Set(HeaderSkipped, strconv.Itoa(report.Count(pipeline.Skipped)))
	h.Set(HeaderFailed, strconv.Itoa(report.Count(pipeline.Failed)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Bytes())
}

// renderBase admits only absolute http(s) bases. Relative sources never
// resolve against the server's filesystem.
func renderBase(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("base must be an absolute http(s) URL")
	}
	return u.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
