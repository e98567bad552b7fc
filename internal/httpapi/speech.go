package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/broker"
)

// speechRequest is the synthesis payload. Field names follow the
// OpenAI-compatible surface existing clients already speak; the model field
// is accepted and ignored.
type speechRequest struct {
	Input              string  `json:"input"`
	Model              string  `json:"model"`
	Voice              string  `json:"voice"`
	ResponseFormat     string  `json:"response_format"`
	Stream             bool    `json:"stream"`
	Save               bool    `json:"save"`
	CFGValue           float64 `json:"cfg_value"`
	InferenceTimesteps int     `json:"inference_timesteps"`
	RetryBadCase       *bool   `json:"retry_badcase"`
	RetryMaxTimes      int     `json:"retry_badcase_max_times"`
	RetryThreshold     float64 `json:"retry_badcase_ratio_threshold"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "JSON body required")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		respondErrorParam(w, http.StatusBadRequest, "invalid_request", "input", "missing 'input' field")
		return
	}

	format := strings.ToLower(strings.TrimSpace(req.ResponseFormat))
	if format == "" {
		format = "wav"
	}
	if format != "wav" && format != "pcm" {
		respondErrorParam(w, http.StatusBadRequest, "invalid_request", "response_format", "response_format must be wav or pcm")
		return
	}

	breq := broker.Request{
		Text:               req.Input,
		Voice:              req.Voice,
		CFGValue:           req.CFGValue,
		InferenceTimesteps: req.InferenceTimesteps,
		Retry:              s.retryPolicy(req),
	}

	if req.Stream {
		// Streams are raw PCM regardless of response_format: a WAV container
		// needs the final length up front.
		s.streamSpeech(w, r, breq, req.Save)
		return
	}

	res, err := s.broker.Synthesize(r.Context(), breq)
	if err != nil {
		s.respondMapped(w, err)
		return
	}

	if req.Save {
		path, err := s.broker.Persist(res.Artifact, res.Voice)
		if err != nil {
			s.respondMapped(w, err)
			return
		}
		w.Header().Set("X-Voxserve-Saved-File", path)
	}

	if format == "pcm" {
		w.Header().Set("Content-Type", "audio/pcm")
		w.Header().Set("Content-Disposition", `attachment; filename="speech.pcm"`)
		w.Header().Set("X-Voxserve-Sample-Rate", strconv.Itoa(res.Artifact.SampleRate))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.Artifact.PCM)
		return
	}

	wavBytes, err := res.Artifact.WAVBytes()
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wavBytes)
}

// streamSpeech writes PCM chunks as they arrive. The status line goes out
// with the first chunk, so failures before that still get a proper error
// response; afterwards closing the connection early is the only remaining
// signal.
func (s *Server) streamSpeech(w http.ResponseWriter, r *http.Request, breq broker.Request, save bool) {
	flusher, _ := w.(http.Flusher)

	headerSent := false
	sink := func(chunk []byte) error {
		if !headerSent {
			w.Header().Set("Content-Type", "audio/pcm")
			w.Header().Set("X-Voxserve-Sample-Rate", strconv.Itoa(s.cfg.Engine.SampleRate))
			w.WriteHeader(http.StatusOK)
			headerSent = true
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	res, err := s.broker.SynthesizeStream(r.Context(), breq, sink)
	if err != nil {
		if !headerSent {
			s.respondMapped(w, err)
			return
		}
		s.log.Warn("stream aborted mid-response", zap.Error(err))
		return
	}

	if save {
		if _, err := s.broker.Persist(res.Artifact, res.Voice); err != nil {
			s.log.Warn("saving streamed output failed", zap.Error(err))
		}
	}
}

// retryPolicy folds explicit request settings over the configured defaults.
// An absent retry_badcase keeps the default; zero counts and thresholds do
// too, since neither is a usable setting.
func (s *Server) retryPolicy(req speechRequest) broker.RetryPolicy {
	p := s.configuredRetry()
	if req.RetryBadCase != nil {
		p.Enabled = *req.RetryBadCase
	}
	if req.RetryMaxTimes > 0 {
		p.MaxAttempts = req.RetryMaxTimes
	}
	if req.RetryThreshold > 0 {
		p.RatioThreshold = req.RetryThreshold
	}
	return p
}

func (s *Server) configuredRetry() broker.RetryPolicy {
	return broker.RetryPolicy{
		Enabled:        s.cfg.Synthesis.Retry.Enabled,
		MaxAttempts:    s.cfg.Synthesis.Retry.MaxAttempts,
		RatioThreshold: s.cfg.Synthesis.Retry.RatioThreshold,
	}
}
