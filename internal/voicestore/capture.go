package voicestore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCaptureStopped is returned when audio arrives after Stop.
var ErrCaptureStopped = errors.New("capture already stopped")

// Capture is one in-progress voice recording. The capture owns its buffer
// exclusively until Stop; Finalize then hands the audio and transcript to the
// store as a single logical write.
type Capture struct {
	store      *Store
	name       string
	transcript string
	sampleRate int
	overwrite  bool

	mu      sync.Mutex
	pcm     []byte
	stopped bool
	done    chan struct{}
}

// NewCapture opens a recording session for a voice name. A taken name fails
// here, before any audio is accepted, unless overwrite is set.
func (s *Store) NewCapture(name, transcript string, sampleRate int, overwrite bool) (*Capture, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if transcript == "" {
		return nil, ErrEmptyTranscript
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid capture sample rate %d", sampleRate)
	}
	if s.Exists(name) && !overwrite {
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	return &Capture{
		store:      s,
		name:       name,
		transcript: transcript,
		sampleRate: sampleRate,
		overwrite:  overwrite,
		done:       make(chan struct{}),
	}, nil
}

func (c *Capture) Name() string { return c.name }

// Append adds a PCM16LE chunk to the take in arrival order.
func (c *Capture) Append(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrCaptureStopped
	}
	c.pcm = append(c.pcm, chunk...)
	return nil
}

// Stop ends the take. It is idempotent and one-way; audio captured so far is
// kept for Finalize, never discarded.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.done)
}

// Done is closed once the capture has stopped.
func (c *Capture) Done() <-chan struct{} { return c.done }

func (c *Capture) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Duration reports the captured audio length so far.
func (c *Capture) DurationSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(len(c.pcm)/2) / float64(c.sampleRate)
}

// Finalize stops the capture if needed and persists the voice. Audio and
// transcript land together or not at all.
func (c *Capture) Finalize() (*Profile, error) {
	c.Stop()

	c.mu.Lock()
	pcm := c.pcm
	c.mu.Unlock()

	if len(pcm)%2 != 0 {
		// Trailing partial sample from an interrupted source.
		pcm = pcm[:len(pcm)-1]
	}
	return c.store.Commit(c.name, pcm, c.sampleRate, c.transcript, c.overwrite)
}
