package voicestore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func writeVoiceFiles(t *testing.T, dir, name string, withTranscript bool) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".wav"), []byte("fake-wav"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if withTranscript {
		if err := os.WriteFile(filepath.Join(dir, name+".txt"), []byte("  spoken reference line \n"), 0o644); err != nil {
			t.Fatalf("write transcript: %v", err)
		}
	}
}

func TestListPutsDefaultFirst(t *testing.T) {
	s := newTestStore(t)
	writeVoiceFiles(t, s.Dir(), "zelda", true)
	writeVoiceFiles(t, s.Dir(), "alto", false)

	names, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{DefaultVoice, "alto", "zelda"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestListIgnoresTranscriptOnlyAndTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Dir(), "orphan.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("write orphan transcript: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), ".tmp-abc.wav"), []byte("wip"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 || names[0] != DefaultVoice {
		t.Fatalf("List() = %v, want only the default sentinel", names)
	}
}

func TestListDeduplicatesAudioExtensions(t *testing.T) {
	s := newTestStore(t)
	writeVoiceFiles(t, s.Dir(), "twin", false)
	if err := os.WriteFile(filepath.Join(s.Dir(), "twin.mp3"), []byte("also audio"), 0o644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("List() = %v, want default plus one entry for twin", names)
	}
}

func TestResolveDefaultSentinel(t *testing.T) {
	s := newTestStore(t)
	profile, err := s.Resolve(DefaultVoice)
	if err != nil {
		t.Fatalf("Resolve(default) error = %v", err)
	}
	if profile != nil {
		t.Fatalf("Resolve(default) = %+v, want nil", profile)
	}
}

func TestResolveUnknownVoiceFallsBack(t *testing.T) {
	s := newTestStore(t)
	profile, err := s.Resolve("nobody")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want silent fallback", err)
	}
	if profile != nil {
		t.Fatalf("Resolve() = %+v, want nil", profile)
	}
}

func TestResolveAudioWithoutTranscriptFallsBack(t *testing.T) {
	s := newTestStore(t)
	writeVoiceFiles(t, s.Dir(), "mute", false)

	profile, err := s.Resolve("mute")
	if err != nil {
		t.Fatalf("Resolve() error = %v, want silent fallback", err)
	}
	if profile != nil {
		t.Fatalf("Resolve() = %+v, want nil for transcriptless voice", profile)
	}
}

func TestResolveCompleteProfile(t *testing.T) {
	s := newTestStore(t)
	writeVoiceFiles(t, s.Dir(), "ripley", true)

	profile, err := s.Resolve("ripley")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if profile == nil {
		t.Fatal("Resolve() = nil, want profile")
	}
	if profile.PromptText != "spoken reference line" {
		t.Fatalf("PromptText = %q, want trimmed transcript", profile.PromptText)
	}
	if filepath.Base(profile.AudioPath) != "ripley.wav" {
		t.Fatalf("AudioPath = %q, want ripley.wav", profile.AudioPath)
	}
}

func TestResolvePrefersWavOverMp3(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Dir(), "dual.mp3"), []byte("mp3"), 0o644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "dual.txt"), []byte("line"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	profile, err := s.Resolve("dual")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if profile == nil || filepath.Base(profile.AudioPath) != "dual.mp3" {
		t.Fatalf("profile = %+v, want mp3 fallback when wav is absent", profile)
	}
}

func TestCommitWritesBothFiles(t *testing.T) {
	s := newTestStore(t)

	pcm := []byte{0x01, 0x00, 0x02, 0x00}
	profile, err := s.Commit("fresh", pcm, 16000, "the line", false)
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if profile.Name != "fresh" {
		t.Fatalf("profile.Name = %q, want fresh", profile.Name)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "fresh.wav")); err != nil {
		t.Fatalf("audio missing after commit: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "fresh.txt")); err != nil {
		t.Fatalf("transcript missing after commit: %v", err)
	}

	resolved, err := s.Resolve("fresh")
	if err != nil || resolved == nil {
		t.Fatalf("Resolve(fresh) = %v, %v after commit", resolved, err)
	}
}

func TestCommitConflictLeavesExistingUntouched(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Commit("taken", []byte{0x0A, 0x00}, 16000, "original line", false); err != nil {
		t.Fatalf("seed Commit() error = %v", err)
	}
	beforeAudio, err := os.ReadFile(filepath.Join(s.Dir(), "taken.wav"))
	if err != nil {
		t.Fatalf("read seeded audio: %v", err)
	}
	beforeText, err := os.ReadFile(filepath.Join(s.Dir(), "taken.txt"))
	if err != nil {
		t.Fatalf("read seeded transcript: %v", err)
	}

	_, err = s.Commit("taken", []byte{0x0B, 0x00}, 16000, "imposter line", false)
	if !errors.Is(err, ErrNameConflict) {
		t.Fatalf("Commit() error = %v, want ErrNameConflict", err)
	}

	afterAudio, _ := os.ReadFile(filepath.Join(s.Dir(), "taken.wav"))
	afterText, _ := os.ReadFile(filepath.Join(s.Dir(), "taken.txt"))
	if !bytes.Equal(beforeAudio, afterAudio) || !bytes.Equal(beforeText, afterText) {
		t.Fatal("conflicting commit modified the existing profile")
	}
}

func TestCommitOverwriteReplacesProfile(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Commit("remake", []byte{0x0A, 0x00}, 16000, "first", false); err != nil {
		t.Fatalf("seed Commit() error = %v", err)
	}
	if _, err := s.Commit("remake", []byte{0x0B, 0x00}, 16000, "second", true); err != nil {
		t.Fatalf("overwrite Commit() error = %v", err)
	}

	profile, err := s.Resolve("remake")
	if err != nil || profile == nil {
		t.Fatalf("Resolve() = %v, %v after overwrite", profile, err)
	}
	if profile.PromptText != "second" {
		t.Fatalf("PromptText = %q, want %q", profile.PromptText, "second")
	}
}

func TestCommitValidation(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Commit("../escape", []byte{0x01, 0x00}, 16000, "line", false); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("path traversal name error = %v, want ErrInvalidName", err)
	}
	if _, err := s.Commit(DefaultVoice, []byte{0x01, 0x00}, 16000, "line", false); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("reserved name error = %v, want ErrInvalidName", err)
	}
	if _, err := s.Commit("quiet", []byte{0x01, 0x00}, 16000, "   ", false); !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("blank transcript error = %v, want ErrEmptyTranscript", err)
	}
}

func TestCaptureLifecycle(t *testing.T) {
	s := newTestStore(t)

	capture, err := s.NewCapture("narrator", "read this line", 16000, false)
	if err != nil {
		t.Fatalf("NewCapture() error = %v", err)
	}
	if err := capture.Append([]byte{0x01, 0x00}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := capture.Append([]byte{0x02, 0x00, 0x03, 0x00}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	capture.Stop()
	capture.Stop() // idempotent

	select {
	case <-capture.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}
	if err := capture.Append([]byte{0x09, 0x00}); !errors.Is(err, ErrCaptureStopped) {
		t.Fatalf("Append() after stop error = %v, want ErrCaptureStopped", err)
	}

	profile, err := capture.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if profile.Name != "narrator" {
		t.Fatalf("profile.Name = %q, want narrator", profile.Name)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "narrator.wav")); err != nil {
		t.Fatalf("audio missing after finalize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "narrator.txt")); err != nil {
		t.Fatalf("transcript missing after finalize: %v", err)
	}
}

func TestCaptureRejectsTakenName(t *testing.T) {
	s := newTestStore(t)
	writeVoiceFiles(t, s.Dir(), "claimed", true)

	if _, err := s.NewCapture("claimed", "line", 16000, false); !errors.Is(err, ErrNameConflict) {
		t.Fatalf("NewCapture() error = %v, want ErrNameConflict", err)
	}
	if _, err := s.NewCapture("claimed", "line", 16000, true); err != nil {
		t.Fatalf("NewCapture(overwrite) error = %v", err)
	}
}

func TestCaptureConcurrentAppendAndStop(t *testing.T) {
	s := newTestStore(t)
	capture, err := s.NewCapture("busy", "line", 16000, false)
	if err != nil {
		t.Fatalf("NewCapture() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := capture.Append([]byte{0x01, 0x00}); err != nil {
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		capture.Stop()
	}()
	wg.Wait()

	if _, err := capture.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if !capture.Stopped() {
		t.Fatal("capture not stopped after Finalize")
	}
}
