package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/broker"
	"github.com/vox-studio/voxserve/internal/config"
	"github.com/vox-studio/voxserve/internal/engine"
	"github.com/vox-studio/voxserve/internal/history"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/voicestore"
)

type failEngine struct{}

func (failEngine) Name() string { return "fail" }

func (failEngine) Health(context.Context) error { return nil }

func (failEngine) Generate(context.Context, engine.Params) (*engine.GenResult, error) {
	return nil, fmt.Errorf("%w: scripted failure", engine.ErrGenerationFailed)
}
func (failEngine) GenerateStream(context.Context, engine.Params) (*engine.StreamResult, error) {
	return nil, fmt.Errorf("%w: scripted failure", engine.ErrGenerationFailed)
}

// fakePlayback records transitions and whether the artifact file still
// existed at the moment playback was told to stop.
type fakePlayback struct {
	mu         sync.Mutex
	events     []string
	statAtStop []bool
}

func (f *fakePlayback) Stop(path string) {
	_, err := os.Stat(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	f.statAtStop = append(f.statAtStop, err == nil)
}

func (f *fakePlayback) Play(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "play "+path)
}

var metricsSeq atomic.Int64

func newTestManager(t *testing.T, eng engine.Engine, ttl time.Duration) (*Manager, *fakePlayback) {
	t.Helper()
	voices, err := voicestore.New(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("voicestore.New: %v", err)
	}
	asm, err := audio.NewAssembler(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	metrics := observability.NewMetrics(fmt.Sprintf("voxserve_session_test_%d", metricsSeq.Add(1)))
	brk, err := broker.New(eng, voices, asm, observability.NewUsageAggregator(), metrics,
		history.NewInMemoryStore(8), config.Default().Synthesis, t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("broker.New: %v", err)
	}
	pb := &fakePlayback{}
	return NewManager(brk, voices, asm, pb, metrics, ttl, zap.NewNop()), pb
}

func TestStartHoldsOneUndecidedPreviewPerSession(t *testing.T) {
	m, _ := newTestManager(t, engine.NewMock(16000), time.Minute)
	ctx := context.Background()

	p, err := m.Start(ctx, "s1", broker.Request{Text: "first take"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.ID == "" || p.SessionID != "s1" {
		t.Fatalf("preview = %+v, want ID and session set", p)
	}
	if p.DurationSeconds <= 0 {
		t.Fatalf("DurationSeconds = %v, want positive", p.DurationSeconds)
	}

	if _, err := m.Start(ctx, "s1", broker.Request{Text: "second take"}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second Start err = %v, want ErrSessionBusy", err)
	}
	if _, err := m.Start(ctx, "s2", broker.Request{Text: "other session"}); err != nil {
		t.Fatalf("Start on other session: %v", err)
	}
	if got := m.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}
}

func TestStartDefaultsSessionKey(t *testing.T) {
	m, _ := newTestManager(t, engine.NewMock(16000), time.Minute)
	ctx := context.Background()

	p, err := m.Start(ctx, "", broker.Request{Text: "anonymous"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.SessionID != DefaultSession {
		t.Fatalf("SessionID = %q, want %q", p.SessionID, DefaultSession)
	}
	if _, err := m.Start(ctx, "   ", broker.Request{Text: "same slot"}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("blank session Start err = %v, want ErrSessionBusy", err)
	}
}

func TestCommitPersistsPreviewAsVoice(t *testing.T) {
	m, pb := newTestManager(t, engine.NewMock(16000), time.Minute)
	ctx := context.Background()

	p, err := m.Start(ctx, "", broker.Request{Text: "hello preview"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, art, err := m.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	profile, err := m.Commit(p.ID, "fresh", false)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if profile.Name != "fresh" || profile.PromptText != "hello preview" {
		t.Fatalf("profile = %+v, want name fresh with preview text", profile)
	}
	if !m.voices.Exists("fresh") {
		t.Fatal("voice not visible in store after commit")
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Fatalf("ephemeral artifact still present after commit: %v", err)
	}
	if _, _, err := m.Get(p.ID); !errors.Is(err, ErrPreviewGone) {
		t.Fatalf("Get after commit err = %v, want ErrPreviewGone", err)
	}
	if _, err := m.Start(ctx, "", broker.Request{Text: "slot reopened"}); err != nil {
		t.Fatalf("Start after commit: %v", err)
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if len(pb.events) < 2 || pb.events[0] != "stop" {
		t.Fatalf("playback events = %v, want stop first", pb.events)
	}
	if !pb.statAtStop[0] {
		t.Fatal("storage released before playback stopped")
	}
	if pb.events[1] != "play "+profile.AudioPath {
		t.Fatalf("events[1] = %q, want resume from %q", pb.events[1], profile.AudioPath)
	}
}

func TestCommitConflictKeepsPreviewPending(t *testing.T) {
	m, _ := newTestManager(t, engine.NewMock(16000), time.Minute)
	ctx := context.Background()

	if _, err := m.voices.Commit("taken", make([]byte, 64), 16000, "existing voice", false); err != nil {
		t.Fatalf("seed Commit: %v", err)
	}

	p, err := m.Start(ctx, "", broker.Request{Text: "candidate take"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Commit(p.ID, "taken", false); !errors.Is(err, voicestore.ErrNameConflict) {
		t.Fatalf("Commit err = %v, want ErrNameConflict", err)
	}
	if _, _, err := m.Get(p.ID); err != nil {
		t.Fatalf("preview dropped after failed commit: %v", err)
	}
	if _, err := m.Start(ctx, "", broker.Request{Text: "still busy"}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("Start err = %v, want ErrSessionBusy while undecided", err)
	}

	if _, err := m.Commit(p.ID, "taken", true); err != nil {
		t.Fatalf("Commit with overwrite: %v", err)
	}
}

func TestDiscardReleasesStorageIdempotently(t *testing.T) {
	m, pb := newTestManager(t, engine.NewMock(16000), time.Minute)
	ctx := context.Background()

	p, err := m.Start(ctx, "", broker.Request{Text: "throwaway"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, art, err := m.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Fatalf("artifact not materialized: %v", err)
	}

	if err := m.Discard(p.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Fatalf("artifact still present after discard: %v", err)
	}
	pb.mu.Lock()
	if len(pb.statAtStop) == 0 || !pb.statAtStop[0] {
		pb.mu.Unlock()
		t.Fatal("storage released before playback stopped")
	}
	pb.mu.Unlock()

	if err := m.Discard(p.ID); err != nil {
		t.Fatalf("second Discard: %v", err)
	}
	if _, err := m.Start(ctx, "", broker.Request{Text: "slot reopened"}); err != nil {
		t.Fatalf("Start after discard: %v", err)
	}
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
}

func TestCommitAfterDiscardFails(t *testing.T) {
	m, _ := newTestManager(t, engine.NewMock(16000), time.Minute)
	ctx := context.Background()

	p, err := m.Start(ctx, "", broker.Request{Text: "gone soon"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Discard(p.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := m.Commit(p.ID, "late", false); !errors.Is(err, ErrPreviewGone) {
		t.Fatalf("Commit err = %v, want ErrPreviewGone", err)
	}
}

func TestStartFailureFreesSlot(t *testing.T) {
	m, _ := newTestManager(t, failEngine{}, time.Minute)
	ctx := context.Background()

	if _, err := m.Start(ctx, "", broker.Request{Text: "boom"}); !errors.Is(err, engine.ErrGenerationFailed) {
		t.Fatalf("Start err = %v, want ErrGenerationFailed", err)
	}
	if _, err := m.Start(ctx, "", broker.Request{Text: "boom"}); errors.Is(err, ErrSessionBusy) {
		t.Fatal("slot leaked after failed generation")
	}
}

func TestExpiredPreviewsSwept(t *testing.T) {
	m, _ := newTestManager(t, engine.NewMock(16000), 20*time.Millisecond)
	ctx := context.Background()

	p, err := m.Start(ctx, "", broker.Request{Text: "fleeting"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, art, err := m.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	m.expireStale()

	if _, _, err := m.Get(p.ID); !errors.Is(err, ErrPreviewGone) {
		t.Fatalf("Get after sweep err = %v, want ErrPreviewGone", err)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Fatalf("artifact still present after sweep: %v", err)
	}
	if _, err := m.Start(ctx, "", broker.Request{Text: "slot reopened"}); err != nil {
		t.Fatalf("Start after sweep: %v", err)
	}
}
