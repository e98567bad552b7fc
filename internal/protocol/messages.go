package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants on the recording socket.
type MessageType string

const (
	TypeRecordStart MessageType = "record_start"
	TypeRecordAudio MessageType = "record_audio"
	TypeRecordStop  MessageType = "record_stop"
	TypeRecordSaved MessageType = "record_saved"
	TypeRecordError MessageType = "record_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// RecordStart opens a capture for a named voice. The transcript is what the
// speaker reads aloud; it becomes the voice's conditioning text.
type RecordStart struct {
	Type       MessageType `json:"type"`
	Name       string      `json:"name"`
	Transcript string      `json:"transcript"`
	SampleRate int         `json:"sample_rate"`
	Overwrite  bool        `json:"overwrite"`
}

// RecordAudio carries one chunk of captured PCM16LE audio.
type RecordAudio struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
}

// RecordStop finalizes the capture and persists the voice.
type RecordStop struct {
	Type MessageType `json:"type"`
}

// RecordSaved confirms the voice landed in the store.
type RecordSaved struct {
	Type            MessageType `json:"type"`
	Voice           string      `json:"voice"`
	AudioPath       string      `json:"audio_path"`
	DurationSeconds float64     `json:"duration_seconds"`
}

// RecordError reports a failure on the recording socket.
type RecordError struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseRecordMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeRecordStart:
		var msg RecordStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Name == "" || msg.Transcript == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid record_start")
		}
		return msg, nil
	case TypeRecordAudio:
		var msg RecordAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid record_audio")
		}
		return msg, nil
	case TypeRecordStop:
		var msg RecordStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
