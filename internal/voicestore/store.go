// Package voicestore persists named voice profiles: a reference audio clip
// plus the transcript of what it says, stored side by side as
// <name>.wav|.mp3 and <name>.txt inside one directory.
package voicestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/audio"
)

// DefaultVoice is the sentinel for unconditioned synthesis. It is always
// listed first and never resolves to a profile.
const DefaultVoice = "default"

var (
	ErrNameConflict    = errors.New("voice name already exists")
	ErrInvalidName     = errors.New("invalid voice name")
	ErrEmptyTranscript = errors.New("transcript must not be empty")
)

// Profile is a fully usable voice: both the audio clip and its transcript
// exist on disk.
type Profile struct {
	Name       string
	AudioPath  string
	PromptText string
}

// Store manages the voice directory. Commits go through temp files and
// renames so listings only ever see complete profiles.
type Store struct {
	dir string
	mu  sync.Mutex
	log *zap.Logger
}

func New(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create voices dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Dir() string { return s.dir }

// List returns the default sentinel followed by every voice name with an
// audio file, sorted. A missing transcript does not exclude a name here.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read voices dir: %w", err)
	}

	seen := make(map[string]bool)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		if strings.HasPrefix(base, ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(base))
		if ext != ".wav" && ext != ".mp3" {
			continue
		}
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if name == "" || name == DefaultVoice || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	return append([]string{DefaultVoice}, names...), nil
}

// Resolve maps a voice name to its profile. The default sentinel, an unknown
// name and a voice missing its transcript all resolve to nil without error;
// synthesis then proceeds unconditioned.
func (s *Store) Resolve(name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == DefaultVoice {
		return nil, nil
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	audioPath := filepath.Join(s.dir, name+".wav")
	if _, err := os.Stat(audioPath); err != nil {
		audioPath = filepath.Join(s.dir, name+".mp3")
		if _, err := os.Stat(audioPath); err != nil {
			s.log.Warn("voice not found, using default", zap.String("voice", name))
			return nil, nil
		}
	}

	textPath := filepath.Join(s.dir, name+".txt")
	raw, err := os.ReadFile(textPath)
	if err != nil {
		s.log.Warn("voice is missing its transcript, using default",
			zap.String("voice", name),
			zap.String("audio_path", audioPath),
		)
		return nil, nil
	}

	return &Profile{
		Name:       name,
		AudioPath:  audioPath,
		PromptText: strings.TrimSpace(string(raw)),
	}, nil
}

// Exists reports whether any profile file claims the name.
func (s *Store) Exists(name string) bool {
	for _, ext := range []string{".wav", ".mp3", ".txt"} {
		if _, err := os.Stat(filepath.Join(s.dir, name+ext)); err == nil {
			return true
		}
	}
	return false
}

// Commit persists a new voice from mono PCM16LE audio and its transcript.
// The transcript lands before the audio; listings enumerate audio files, so
// a half-written profile is never visible.
func (s *Store) Commit(name string, pcm []byte, sampleRate int, transcript string, overwrite bool) (*Profile, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Exists(name) && !overwrite {
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}

	tmpID := uuid.NewString()
	tmpText := filepath.Join(s.dir, ".tmp-"+tmpID+".txt")
	tmpAudio := filepath.Join(s.dir, ".tmp-"+tmpID+".wav")
	finalText := filepath.Join(s.dir, name+".txt")
	finalAudio := filepath.Join(s.dir, name+".wav")

	if err := os.WriteFile(tmpText, []byte(transcript), 0o644); err != nil {
		return nil, fmt.Errorf("write transcript: %w", err)
	}
	if err := audio.WriteWAVPCM16LEFile(tmpAudio, pcm, sampleRate); err != nil {
		_ = os.Remove(tmpText)
		return nil, fmt.Errorf("write voice audio: %w", err)
	}

	if err := os.Rename(tmpText, finalText); err != nil {
		_ = os.Remove(tmpText)
		_ = os.Remove(tmpAudio)
		return nil, fmt.Errorf("publish transcript: %w", err)
	}
	if err := os.Rename(tmpAudio, finalAudio); err != nil {
		_ = os.Remove(finalText)
		_ = os.Remove(tmpAudio)
		return nil, fmt.Errorf("publish voice audio: %w", err)
	}

	// A stale mp3 from an overwritten profile would shadow nothing for
	// resolution but would duplicate the listing entry.
	if overwrite {
		_ = os.Remove(filepath.Join(s.dir, name+".mp3"))
	}

	s.log.Info("voice committed",
		zap.String("voice", name),
		zap.Int("pcm_bytes", len(pcm)),
		zap.Bool("overwrite", overwrite),
	)
	return &Profile{Name: name, AudioPath: finalAudio, PromptText: strings.TrimSpace(transcript)}, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if name == DefaultVoice {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, DefaultVoice)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: name must not start with a dot", ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("%w: name must not contain path separators", ErrInvalidName)
	}
	return nil
}
