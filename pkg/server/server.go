// Package server exposes the transcription service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voicetrainer/speechpipe/pkg/config"
	"github.com/voicetrainer/speechpipe/pkg/metrics"
	"github.com/voicetrainer/speechpipe/pkg/transcribe"
)

// Transcriber is the part of the transcription service the HTTP layer
// needs.
type Transcriber interface {
	Transcribe(ctx context.Context, payload transcribe.Payload) (*transcribe.Result, error)
}

type Server struct {
	HTTPServer  *http.Server
	Transcriber Transcriber
	Metrics     *metrics.Metrics

	cfg config.ServerConfig
	ctx context.Context
}

func New(
	ctx context.Context,
	cfg config.ServerConfig,
	transcriber Transcriber,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		Transcriber: transcriber,
		Metrics:     m,
		cfg:         cfg,
		ctx:         ctx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transcriptions", s.withMetrics("/v1/transcriptions", s.handleTranscription))
	mux.HandleFunc("/healthz", s.withMetrics("/healthz", s.handleHealthz))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.HTTPServer = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      mux,
		ReadTimeout:  cfg.GetRequestTimeout(),
		WriteTimeout: cfg.GetRequestTimeout(),
		IdleTimeout:  60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	return s
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// filtered out: it is the normal shutdown path.
func (s *Server) ListenAndServe(ctx context.Context) error {
	logger.Infof(ctx, "listening on %s", s.HTTPServer.Addr)
	err := s.HTTPServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.HTTPServer.Shutdown(ctx)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

type debugResponse struct {
	WAV          bool   `json:"wav"`
	Bytes        int    `json:"bytes"`
	SamplingRate uint32 `json:"sampling_rate,omitempty"`
	Samples      int    `json:"samples,omitempty"`
}

type transcriptionResponse struct {
	Transcript string         `json:"transcript"`
	Model      string         `json:"model"`
	Debug      *debugResponse `json:"debug,omitempty"`
}

// handleTranscription implements POST /v1/transcriptions. The audio
// arrives as multipart/form-data in a field named "audio".
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error:   "method not allowed",
			Message: fmt.Sprintf("%s is not supported here, use POST", r.Method),
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid request",
			Message: fmt.Sprintf("expected multipart/form-data: %v", err),
		})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid request",
			Message: `the multipart field "audio" is missing`,
		})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid request",
			Message: fmt.Sprintf("unable to read the uploaded file: %v", err),
		})
		return
	}
	if s.Metrics != nil {
		s.Metrics.PayloadBytes.Observe(float64(len(raw)))
		s.Metrics.TranscriptionRequests.Inc()
	}

	startTime := time.Now()
	result, err := s.Transcriber.Transcribe(ctx, transcribe.Payload{
		Raw:         raw,
		ContentType: header.Header.Get("Content-Type"),
	})
	if s.Metrics != nil {
		s.Metrics.TranscriptionDuration.Observe(time.Since(startTime).Seconds())
	}
	if err != nil {
		logger.Errorf(ctx, "transcription failed: %v", err)
		if s.Metrics != nil {
			s.Metrics.TranscriptionFailures.WithLabelValues(failureStage(err)).Inc()
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "STT failed",
			Details: err.Error(),
			Hint:    hintFor(err),
		})
		return
	}

	if s.Metrics != nil {
		s.Metrics.TranscriptionSuccesses.Inc()
	}
	resp := transcriptionResponse{
		Transcript: result.Text,
		Model:      result.ModelID,
	}
	if result.Text == "" {
		if s.Metrics != nil {
			s.Metrics.EmptyTranscripts.Inc()
		}
		resp.Debug = &debugResponse{
			WAV:          result.Debug.WAV,
			Bytes:        result.Debug.Bytes,
			SamplingRate: uint32(result.Debug.SampleRate),
			Samples:      result.Debug.Samples,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// failureStage labels a transcription error for the failure counter.
func failureStage(err error) string {
	var loadErr *transcribe.ModelLoadError
	if errors.As(err, &loadErr) {
		return "model_load"
	}
	var infErr *transcribe.InferenceError
	if errors.As(err, &infErr) {
		return "inference"
	}
	return "other"
}

// hintFor recognizes the failure patterns users can actually act on.
// Anything unrecognized yields no hint rather than a guess.
func hintFor(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "token") ||
		strings.Contains(msg, "api key"):
		return "the model endpoint rejected the credentials; check the access token"
	case strings.Contains(msg, "404") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "no such model"):
		return "the requested model is not available; check the model id"
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded"):
		return "the model endpoint is unreachable; check the endpoint address and that the server is running"
	}
	return ""
}

func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(ww, r)
		if s.Metrics != nil {
			s.Metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(ww.status)).Inc()
			s.Metrics.HTTPRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
