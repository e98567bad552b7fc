package engine

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/vox-studio/voxserve/internal/audio"
)

// Mock is a runner-less backend producing deterministic placeholder audio.
// It serves development without a GPU host and the test suite; diagnostics
// can be scripted per call.
type Mock struct {
	mu         sync.Mutex
	sampleRate int
	calls      int
	scripted   []MockDiagnostics
	healthErr  error
}

// MockDiagnostics is the quality signal the mock reports for one call.
type MockDiagnostics struct {
	BadCase bool
	Ratio   float64
}

func NewMock(sampleRate int) *Mock {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &Mock{sampleRate: sampleRate}
}

func (m *Mock) Name() string { return "mock" }

// ScriptDiagnostics queues quality signals consumed one per generation call.
// When the queue is empty every call reports a clean result.
func (m *Mock) ScriptDiagnostics(d ...MockDiagnostics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append(m.scripted, d...)
}

// SetHealthErr makes Health fail until cleared.
func (m *Mock) SetHealthErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
}

// Calls reports how many generation calls the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) Health(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthErr
}

func (m *Mock) Generate(_ context.Context, p Params) (*GenResult, error) {
	pcm, diag := m.synthesize(p)
	wavBytes, err := audio.EncodeWAVPCM16LE(pcm, m.sampleRate)
	if err != nil {
		return nil, err
	}
	return &GenResult{
		WAV:          wavBytes,
		SampleRate:   m.sampleRate,
		BadCase:      diag.BadCase,
		BadCaseRatio: diag.Ratio,
	}, nil
}

func (m *Mock) GenerateStream(_ context.Context, p Params) (*StreamResult, error) {
	pcm, _ := m.synthesize(p)

	chunks := make(chan []byte, 8)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		const chunkBytes = 4096
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			chunk := make([]byte, end-off)
			copy(chunk, pcm[off:end])
			chunks <- chunk
		}
	}()

	return &StreamResult{Chunks: chunks, Errs: errs, SampleRate: m.sampleRate}, nil
}

// synthesize derives PCM from the request text so identical inputs produce
// identical audio, roughly an eighth of a second per word.
func (m *Mock) synthesize(p Params) ([]byte, MockDiagnostics) {
	m.mu.Lock()
	m.calls++
	var diag MockDiagnostics
	if len(m.scripted) > 0 {
		diag = m.scripted[0]
		m.scripted = m.scripted[1:]
	}
	sampleRate := m.sampleRate
	m.mu.Unlock()

	words := len(strings.Fields(p.Text))
	if words == 0 {
		words = 1
	}
	samples := words * sampleRate / 8

	h := fnv.New64a()
	_, _ = h.Write([]byte(p.Text))
	_, _ = h.Write([]byte(p.PromptText))
	state := h.Sum64() | 1

	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		sample := int16(state>>48) / 8
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return pcm, diag
}
