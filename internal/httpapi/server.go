// Package httpapi exposes the synthesis service over HTTP: the
// OpenAI-compatible speech endpoint, voice management including the
// recording websocket, the preview lifecycle and the operational surface.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/broker"
	"github.com/vox-studio/voxserve/internal/config"
	"github.com/vox-studio/voxserve/internal/engine"
	"github.com/vox-studio/voxserve/internal/history"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/session"
	"github.com/vox-studio/voxserve/internal/voicestore"
)

// Version is stamped at build time; the default marks source builds.
var Version = "dev"

type Server struct {
	cfg      config.Config
	broker   *broker.Broker
	previews *session.Manager
	voices   *voicestore.Store
	usage    *observability.UsageAggregator
	ledger   history.Store
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func New(
	cfg config.Config,
	brk *broker.Broker,
	previews *session.Manager,
	voices *voicestore.Store,
	usage *observability.UsageAggregator,
	ledger history.Store,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		broker:   brk,
		previews: previews,
		voices:   voices,
		usage:    usage,
		ledger:   ledger,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser connections from the same origin, so a
				// foreign page cannot drive the user's microphone if the
				// service is ever exposed beyond localhost. Non-browser
				// clients omit Origin and pass.
				if cfg.Server.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/audio/speech", s.handleSpeech)
	r.Get("/v1/voices", s.handleListVoices)
	r.Get("/v1/voices/record", s.handleRecordVoice)
	r.Post("/v1/previews", s.handleStartPreview)
	r.Get("/v1/previews/{id}/audio", s.handlePreviewAudio)
	r.Post("/v1/previews/{id}/commit", s.handleCommitPreview)
	r.Post("/v1/previews/{id}/discard", s.handleDiscardPreview)
	r.Get("/v1/metrics", s.handleUsageSnapshot)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/system/paths", s.handleSystemPaths)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"engine":  s.broker.EngineName(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.broker.Ready(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"reason": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeServer         = "server_error"
)

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

var errEmptyBody = errors.New("empty body")

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondErrorParam(w, status, code, "", message)
}

func respondErrorParam(w http.ResponseWriter, status int, code, param, message string) {
	errType := errTypeInvalidRequest
	if status >= 500 {
		errType = errTypeServer
	}
	respondJSON(w, status, errorResponse{Error: apiError{
		Message: message,
		Type:    errType,
		Param:   param,
		Code:    code,
	}})
}

// respondMapped translates domain sentinels into wire status codes. Engine
// and assembly failures are gateway errors; everything the caller can fix is
// a 4xx.
func (s *Server) respondMapped(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, voicestore.ErrInvalidName), errors.Is(err, voicestore.ErrEmptyTranscript):
		respondError(w, http.StatusBadRequest, "invalid_voice", err.Error())
	case errors.Is(err, voicestore.ErrNameConflict):
		respondError(w, http.StatusConflict, "name_conflict", err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		respondError(w, http.StatusConflict, "session_busy", err.Error())
	case errors.Is(err, session.ErrPreviewGone):
		respondError(w, http.StatusGone, "preview_gone", err.Error())
	case errors.Is(err, engine.ErrGenerationFailed):
		respondError(w, http.StatusBadGateway, "generation_failed", err.Error())
	case errors.Is(err, audio.ErrMalformedAudio):
		respondError(w, http.StatusBadGateway, "malformed_audio", err.Error())
	case errors.Is(err, audio.ErrIncompleteStream):
		respondError(w, http.StatusBadGateway, "incomplete_stream", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
