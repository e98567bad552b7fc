package protocol

import (
	"errors"
	"testing"
)

func TestParseRecordMessageStart(t *testing.T) {
	raw := []byte(`{"type":"record_start","name":"narrator","transcript":"read me aloud","sample_rate":16000,"overwrite":true}`)
	msg, err := ParseRecordMessage(raw)
	if err != nil {
		t.Fatalf("ParseRecordMessage() error = %v", err)
	}

	start, ok := msg.(RecordStart)
	if !ok {
		t.Fatalf("message type = %T, want RecordStart", msg)
	}
	if start.Name != "narrator" || start.SampleRate != 16000 {
		t.Fatalf("unexpected record start: %+v", start)
	}
	if !start.Overwrite {
		t.Fatalf("Overwrite = false, want true")
	}
}

func TestParseRecordMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"record_audio","seq":3,"pcm16_base64":"AQID"}`)
	msg, err := ParseRecordMessage(raw)
	if err != nil {
		t.Fatalf("ParseRecordMessage() error = %v", err)
	}

	chunk, ok := msg.(RecordAudio)
	if !ok {
		t.Fatalf("message type = %T, want RecordAudio", msg)
	}
	if chunk.Seq != 3 || chunk.PCM16Base64 != "AQID" {
		t.Fatalf("unexpected audio chunk: %+v", chunk)
	}
}

func TestParseRecordMessageStop(t *testing.T) {
	msg, err := ParseRecordMessage([]byte(`{"type":"record_stop"}`))
	if err != nil {
		t.Fatalf("ParseRecordMessage() error = %v", err)
	}
	if _, ok := msg.(RecordStop); !ok {
		t.Fatalf("message type = %T, want RecordStop", msg)
	}
}

func TestParseRecordMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseRecordMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseRecordMessageRejectsInvalidStart(t *testing.T) {
	cases := []string{
		`{"type":"record_start","name":"","transcript":"x","sample_rate":16000}`,
		`{"type":"record_start","name":"n","transcript":"","sample_rate":16000}`,
		`{"type":"record_start","name":"n","transcript":"x","sample_rate":0}`,
	}
	for _, raw := range cases {
		if _, err := ParseRecordMessage([]byte(raw)); err == nil {
			t.Fatalf("expected validation error for %s", raw)
		}
	}
}

func TestParseRecordMessageRejectsEmptyAudio(t *testing.T) {
	_, err := ParseRecordMessage([]byte(`{"type":"record_audio","seq":1,"pcm16_base64":""}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func BenchmarkParseRecordMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"record_audio","seq":7,"pcm16_base64":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseRecordMessage(raw)
		if err != nil {
			b.Fatalf("ParseRecordMessage() error = %v", err)
		}
		if _, ok := msg.(RecordAudio); !ok {
			b.Fatalf("message type = %T, want RecordAudio", msg)
		}
	}
}
