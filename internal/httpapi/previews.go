package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vox-studio/voxserve/internal/broker"
	"github.com/vox-studio/voxserve/internal/session"
)

// defaultPreviewText is spoken when a preview request carries no text of its
// own.
const defaultPreviewText = "Here is a short preview of how this voice sounds."

func (s *Server) handleStartPreview(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := s.decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	text := strings.TrimSpace(req.Input)
	if text == "" {
		text = defaultPreviewText
	}

	view, err := s.previews.Start(r.Context(), req.SessionID, broker.Request{
		Text:               text,
		Voice:              req.Voice,
		CFGValue:           req.CFGValue,
		InferenceTimesteps: req.InferenceTimesteps,
		Retry:              s.configuredRetry(),
	})
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handlePreviewAudio(w http.ResponseWriter, r *http.Request) {
	_, art, err := s.previews.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	wavBytes, err := art.WAVBytes()
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wavBytes)
}

type committedVoiceResponse struct {
	Voice      string `json:"voice"`
	AudioPath  string `json:"audio_path"`
	PromptText string `json:"prompt_text"`
}

func (s *Server) handleCommitPreview(w http.ResponseWriter, r *http.Request) {
	var req session.CommitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "JSON body with the target name required")
		return
	}
	profile, err := s.previews.Commit(chi.URLParam(r, "id"), req.Name, req.Overwrite)
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, committedVoiceResponse{
		Voice:      profile.Name,
		AudioPath:  profile.AudioPath,
		PromptText: profile.PromptText,
	})
}

func (s *Server) handleDiscardPreview(w http.ResponseWriter, r *http.Request) {
	if err := s.previews.Discard(chi.URLParam(r, "id")); err != nil {
		s.respondMapped(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
