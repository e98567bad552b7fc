// Package session tracks pending-decision artifacts. Each session holds at
// most one freshly generated voice preview until the caller commits it into
// the voice store or discards it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/broker"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/voicestore"
)

var (
	ErrSessionBusy = errors.New("session busy")
	ErrPreviewGone = errors.New("preview gone")
)

// DefaultSession names the slot used when the caller does not identify
// itself.
const DefaultSession = "default"

// Preview is one undecided synthesis take held for commit or discard.
type Preview struct {
	ID              string    `json:"preview_id"`
	SessionID       string    `json:"session_id"`
	Text            string    `json:"text"`
	Voice           string    `json:"voice"`
	SampleRate      int       `json:"sample_rate"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type pending struct {
	view     Preview
	artifact *audio.Artifact
}

type Manager struct {
	mu        sync.RWMutex
	broker    *broker.Broker
	voices    *voicestore.Store
	assembler *audio.Assembler
	playback  PlaybackController
	metrics   *observability.Metrics
	ttl       time.Duration
	bySession map[string]string
	byID      map[string]*pending
	log       *zap.Logger
}

func NewManager(
	brk *broker.Broker,
	voices *voicestore.Store,
	assembler *audio.Assembler,
	playback PlaybackController,
	metrics *observability.Metrics,
	ttl time.Duration,
	log *zap.Logger,
) *Manager {
	if playback == nil {
		playback = NopPlayback{}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		broker:    brk,
		voices:    voices,
		assembler: assembler,
		playback:  playback,
		metrics:   metrics,
		ttl:       ttl,
		bySession: make(map[string]string),
		byID:      make(map[string]*pending),
		log:       log,
	}
}

// Start synthesizes a preview take for the session and holds it until
// committed or discarded. A second start on the same session while one take
// is undecided is rejected with ErrSessionBusy.
func (m *Manager) Start(ctx context.Context, sessionID string, req broker.Request) (*Preview, error) {
	key := sessionKey(sessionID)

	// Reserve the slot before the slow generation step so concurrent
	// starts on one session cannot race past each other.
	m.mu.Lock()
	if _, busy := m.bySession[key]; busy {
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}
	m.bySession[key] = ""
	m.mu.Unlock()

	res, err := m.broker.Synthesize(ctx, req)
	if err != nil {
		m.mu.Lock()
		delete(m.bySession, key)
		m.mu.Unlock()
		return nil, err
	}

	now := time.Now().UTC()
	p := &pending{
		view: Preview{
			ID:              uuid.NewString(),
			SessionID:       key,
			Text:            strings.TrimSpace(req.Text),
			Voice:           res.Voice,
			SampleRate:      res.Artifact.SampleRate,
			DurationSeconds: res.Artifact.Duration().Seconds(),
			CreatedAt:       now,
			ExpiresAt:       now.Add(m.ttl),
		},
		artifact: res.Artifact,
	}

	m.mu.Lock()
	m.bySession[key] = p.view.ID
	m.byID[p.view.ID] = p
	m.mu.Unlock()

	m.metrics.ActivePreviews.Inc()
	m.log.Info("preview started",
		zap.String("session", key),
		zap.String("preview", p.view.ID),
		zap.Float64("duration_seconds", p.view.DurationSeconds))

	view := p.view
	return &view, nil
}

// Get returns a pending preview together with its artifact for playback.
func (m *Manager) Get(previewID string) (*Preview, *audio.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[previewID]
	if !ok {
		return nil, nil, ErrPreviewGone
	}
	view := p.view
	return &view, p.artifact, nil
}

// Commit persists the preview under name via the voice store and frees the
// session slot. Playback of the ephemeral take stops before the move and
// resumes from the stored copy afterwards. On a name conflict the preview
// stays pending so the caller can retry under another name.
func (m *Manager) Commit(previewID, name string, overwrite bool) (*voicestore.Profile, error) {
	m.mu.RLock()
	p, ok := m.byID[previewID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrPreviewGone
	}

	m.playback.Stop(p.artifact.Path)

	profile, err := m.voices.Commit(name, p.artifact.PCM, p.artifact.SampleRate, p.view.Text, overwrite)
	if err != nil {
		return nil, err
	}

	if m.remove(p) {
		if err := m.assembler.Discard(p.artifact); err != nil {
			m.log.Warn("preview cleanup failed",
				zap.String("preview", previewID), zap.Error(err))
		}
		m.metrics.ActivePreviews.Dec()
	}
	m.playback.Play(profile.AudioPath)

	m.log.Info("preview committed",
		zap.String("preview", previewID),
		zap.String("voice", profile.Name))
	return profile, nil
}

// Discard drops the preview and releases its backing storage. Discarding a
// preview that is already decided or unknown is a no-op.
func (m *Manager) Discard(previewID string) error {
	m.mu.RLock()
	p, ok := m.byID[previewID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if !m.remove(p) {
		return nil
	}

	m.playback.Stop(p.artifact.Path)
	m.metrics.ActivePreviews.Dec()
	if err := m.assembler.Discard(p.artifact); err != nil {
		m.log.Warn("preview discard cleanup failed",
			zap.String("preview", previewID), zap.Error(err))
		return err
	}
	m.log.Info("preview discarded", zap.String("preview", previewID))
	return nil
}

// ActiveCount reports how many previews are awaiting a decision.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// StartJanitor sweeps expired previews until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireStale()
			}
		}
	}()
}

func (m *Manager) expireStale() {
	now := time.Now().UTC()

	m.mu.RLock()
	var stale []string
	for id, p := range m.byID {
		if now.After(p.view.ExpiresAt) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.log.Info("preview expired", zap.String("preview", id))
		if err := m.Discard(id); err != nil {
			m.log.Warn("expired preview cleanup failed",
				zap.String("preview", id), zap.Error(err))
		}
	}
}

// remove clears the maps for p and reports whether this call won the
// removal.
func (m *Manager) remove(p *pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[p.view.ID]; !ok {
		return false
	}
	delete(m.byID, p.view.ID)
	if m.bySession[p.view.SessionID] == p.view.ID {
		delete(m.bySession, p.view.SessionID)
	}
	return true
}

func sessionKey(sessionID string) string {
	key := strings.TrimSpace(sessionID)
	if key == "" {
		return DefaultSession
	}
	return key
}
