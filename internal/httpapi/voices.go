package httpapi

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/protocol"
	"github.com/vox-studio/voxserve/internal/voicestore"
)

type listVoicesResponse struct {
	Voices []string `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	names, err := s.voices.List()
	if err != nil {
		s.respondMapped(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{Voices: names})
}

// handleRecordVoice drives one voice capture per take over a websocket:
// record_start opens it, record_audio chunks append in arrival order,
// record_stop persists audio and transcript together. Failures answer with
// record_error and keep the socket open.
func (s *Server) handleRecordVoice(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var capture *voicestore.Capture
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))

		parsed, err := protocol.ParseRecordMessage(data)
		if err != nil {
			s.writeRecordError(conn, "invalid_message", err.Error())
			continue
		}

		switch msg := parsed.(type) {
		case protocol.RecordStart:
			if capture != nil {
				s.writeRecordError(conn, "capture_open", "finish the current take before starting another")
				continue
			}
			c, err := s.voices.NewCapture(msg.Name, msg.Transcript, msg.SampleRate, msg.Overwrite)
			if err != nil {
				s.writeRecordError(conn, recordErrorCode(err), err.Error())
				continue
			}
			capture = c
		case protocol.RecordAudio:
			if capture == nil {
				s.writeRecordError(conn, "no_capture", "record_start must come first")
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if err != nil {
				s.writeRecordError(conn, "invalid_audio", "chunk is not valid base64")
				continue
			}
			if err := capture.Append(chunk); err != nil {
				s.writeRecordError(conn, recordErrorCode(err), err.Error())
			}
		case protocol.RecordStop:
			if capture == nil {
				s.writeRecordError(conn, "no_capture", "nothing to finalize")
				continue
			}
			profile, err := capture.Finalize()
			if err != nil {
				// The take stays open so a later stop can retry the write.
				s.writeRecordError(conn, recordErrorCode(err), err.Error())
				continue
			}
			s.writeRecordJSON(conn, protocol.RecordSaved{
				Type:            protocol.TypeRecordSaved,
				Voice:           profile.Name,
				AudioPath:       profile.AudioPath,
				DurationSeconds: capture.DurationSeconds(),
			})
			s.log.Info("voice recorded",
				zap.String("voice", profile.Name),
				zap.Float64("duration_seconds", capture.DurationSeconds()))
			capture = nil
		}
	}

	if capture != nil {
		capture.Stop()
		s.log.Warn("recording connection closed with unsaved take",
			zap.String("voice", capture.Name()))
	}
}

func recordErrorCode(err error) string {
	switch {
	case errors.Is(err, voicestore.ErrNameConflict):
		return "name_conflict"
	case errors.Is(err, voicestore.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, voicestore.ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, voicestore.ErrCaptureStopped):
		return "capture_stopped"
	default:
		return "capture_failed"
	}
}

func (s *Server) writeRecordJSON(conn *websocket.Conn, v any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		s.log.Warn("recording socket write failed", zap.Error(err))
	}
}

func (s *Server) writeRecordError(conn *websocket.Conn, code, detail string) {
	s.writeRecordJSON(conn, protocol.RecordError{
		Type:   protocol.TypeRecordError,
		Code:   code,
		Detail: detail,
	})
}
