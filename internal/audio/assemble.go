package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrMalformedAudio marks payloads that cannot be interpreted as PCM16 audio.
	ErrMalformedAudio = errors.New("malformed audio payload")
	// ErrIncompleteStream marks chunk streams that ended before the producer finished.
	ErrIncompleteStream = errors.New("audio stream ended before completion")
)

const sampleWidthBytes = 2

// Artifact is one playable synthesis result: decoded mono PCM16LE samples,
// their sample rate and, once materialized, a WAV file on disk.
type Artifact struct {
	PCM        []byte
	SampleRate int
	Path       string
}

func (a *Artifact) SampleCount() int {
	if a == nil {
		return 0
	}
	return len(a.PCM) / sampleWidthBytes
}

func (a *Artifact) Duration() time.Duration {
	if a == nil || a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(a.SampleCount()) / float64(a.SampleRate) * float64(time.Second))
}

// WAVBytes renders the artifact as an in-memory WAV container.
func (a *Artifact) WAVBytes() ([]byte, error) {
	return EncodeWAVPCM16LE(a.PCM, a.SampleRate)
}

// Assembler normalizes model output, batch WAV payloads or streamed PCM
// chunks, into artifacts materialized under its scratch directory.
type Assembler struct {
	dir string
	log *zap.Logger
}

func NewAssembler(dir string, log *zap.Logger) (*Assembler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Assembler{dir: dir, log: log}, nil
}

// Dir reports the scratch directory artifacts are materialized into.
func (a *Assembler) Dir() string {
	return a.dir
}

// FromWAV decodes a complete WAV payload into a materialized artifact. The
// sample rate is whatever the container declares.
func (a *Assembler) FromWAV(raw []byte) (*Artifact, error) {
	pcm, sampleRate, err := DecodeWAVPCM16(raw)
	if err != nil {
		return nil, err
	}
	art := &Artifact{PCM: pcm, SampleRate: sampleRate}
	if err := a.materialize(art); err != nil {
		return nil, err
	}
	return art, nil
}

// FromPCMChunks concatenates raw PCM16LE chunks in arrival order and wraps
// them at the given fixed sample rate. The total byte length must be sample
// aligned; order is preserved exactly as given.
func (a *Assembler) FromPCMChunks(chunks [][]byte, sampleRate int) (*Artifact, error) {
	total := 0
	for _, chunk := range chunks {
		total += len(chunk)
	}
	if total%sampleWidthBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of 16-bit samples", ErrMalformedAudio, total)
	}

	pcm := make([]byte, 0, total)
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}

	art := &Artifact{PCM: pcm, SampleRate: sampleRate}
	if err := a.materialize(art); err != nil {
		return nil, err
	}
	return art, nil
}

// Drain consumes a chunk stream in a single pass, forwarding each chunk to
// onChunk (when non-nil) while retaining everything for assembly. The producer
// must close chunks when done and send at most one terminal error on errs
// before closing it. A producer error or context cancellation surfaces as
// ErrIncompleteStream; an onChunk error surfaces as-is.
func (a *Assembler) Drain(ctx context.Context, chunks <-chan []byte, errs <-chan error, onChunk func([]byte) error) ([][]byte, error) {
	var collected [][]byte
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrIncompleteStream, ctx.Err())
		case err, ok := <-errs:
			if ok && err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIncompleteStream, err)
			}
			// errs closed cleanly; keep draining chunks only.
			errs = nil
		case chunk, ok := <-chunks:
			if !ok {
				if errs != nil {
					if err, ok := <-errs; ok && err != nil {
						return nil, fmt.Errorf("%w: %v", ErrIncompleteStream, err)
					}
				}
				return collected, nil
			}
			if len(chunk) == 0 {
				continue
			}
			collected = append(collected, chunk)
			if onChunk != nil {
				if err := onChunk(chunk); err != nil {
					return nil, err
				}
			}
		}
	}
}

// Discard removes an artifact's backing file. Missing files are not an error;
// discard must stay idempotent.
func (a *Assembler) Discard(art *Artifact) error {
	if art == nil || art.Path == "" {
		return nil
	}
	err := os.Remove(art.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard artifact: %w", err)
	}
	art.Path = ""
	return nil
}

func (a *Assembler) materialize(art *Artifact) error {
	path := filepath.Join(a.dir, fmt.Sprintf("art_%s.wav", uuid.NewString()))
	if err := WriteWAVPCM16LEFile(path, art.PCM, art.SampleRate); err != nil {
		return fmt.Errorf("materialize artifact: %w", err)
	}
	art.Path = path
	a.log.Debug("artifact materialized",
		zap.String("path", path),
		zap.Int("samples", art.SampleCount()),
		zap.Int("sample_rate", art.SampleRate),
	)
	return nil
}
