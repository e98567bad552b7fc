// Package broker coordinates synthesis requests end to end: voice
// resolution, model invocation, audio assembly, the bad-case quality loop
// and usage accounting.
package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/config"
	"github.com/vox-studio/voxserve/internal/engine"
	"github.com/vox-studio/voxserve/internal/history"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/voicestore"
)

// ErrInvalidRequest marks requests rejected before any model work begins.
var ErrInvalidRequest = errors.New("invalid request")

const (
	ModeBatch  = "batch"
	ModeStream = "stream"

	OutcomeAccepted  = "accepted"
	OutcomeExhausted = "exhausted"
)

// Request describes one synthesis job. Zero CFGValue and InferenceTimesteps
// pick up the configured defaults; retry settings are taken as given.
type Request struct {
	Text               string
	Voice              string
	CFGValue           float64
	InferenceTimesteps int
	Retry              RetryPolicy
}

// Result is a finished synthesis: the assembled artifact plus how it got
// there.
type Result struct {
	Artifact     *audio.Artifact
	Voice        string
	Outcome      string
	Attempts     int
	BadCase      bool
	BadCaseRatio float64
	Elapsed      time.Duration
}

type Broker struct {
	eng        engine.Engine
	voices     *voicestore.Store
	assembler  *audio.Assembler
	usage      *observability.UsageAggregator
	metrics    *observability.Metrics
	ledger     history.Store
	defaults   config.SynthesisConfig
	outputsDir string
	log        *zap.Logger
}

func New(
	eng engine.Engine,
	voices *voicestore.Store,
	assembler *audio.Assembler,
	usage *observability.UsageAggregator,
	metrics *observability.Metrics,
	ledger history.Store,
	defaults config.SynthesisConfig,
	outputsDir string,
	log *zap.Logger,
) (*Broker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(outputsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create outputs dir: %w", err)
	}
	return &Broker{
		eng:        eng,
		voices:     voices,
		assembler:  assembler,
		usage:      usage,
		metrics:    metrics,
		ledger:     ledger,
		defaults:   defaults,
		outputsDir: outputsDir,
		log:        log,
	}, nil
}

// EngineName reports which backend the broker drives.
func (b *Broker) EngineName() string { return b.eng.Name() }

// Ready probes the backend, for readiness checks.
func (b *Broker) Ready(ctx context.Context) error { return b.eng.Health(ctx) }

// Synthesize runs one batch generation, regenerating on bad-case reports
// until the quality loop accepts or the attempt budget runs out. Transport
// failures surface immediately and are never retried here.
func (b *Broker) Synthesize(ctx context.Context, req Request) (*Result, error) {
	text, err := b.checkText(req.Text)
	if err != nil {
		return nil, err
	}

	req = b.withDefaults(req)
	voiceName, profile := b.resolveVoice(req.Voice)

	// The runner's own retry stays off for batch; the quality loop below
	// owns regeneration.
	params := engine.Params{
		Text:               text,
		CFGValue:           req.CFGValue,
		InferenceTimesteps: req.InferenceTimesteps,
	}
	if profile != nil {
		params.PromptAudioPath = profile.AudioPath
		params.PromptText = profile.PromptText
	}

	started := time.Now()
	state := req.Retry.Start()
	var (
		gen     *engine.GenResult
		outcome string
	)
	for {
		res, err := b.eng.Generate(ctx, params)
		if err != nil {
			b.metrics.EngineErrors.WithLabelValues(b.eng.Name(), "generate").Inc()
			return nil, err
		}
		gen = res

		verdict := state.Evaluate(res.BadCase, res.BadCaseRatio)
		if verdict == RetryAgain {
			b.metrics.QualityRetries.Inc()
			b.log.Info("bad case reported, regenerating",
				zap.String("voice", voiceName),
				zap.Int("attempt", state.Attempt()),
				zap.Float64("ratio", res.BadCaseRatio))
			continue
		}
		if verdict == RetryExhausted {
			outcome = OutcomeExhausted
			b.log.Warn("retry budget exhausted, keeping last take",
				zap.String("voice", voiceName),
				zap.Int("attempts", state.Attempt()),
				zap.Float64("ratio", res.BadCaseRatio))
		} else {
			outcome = OutcomeAccepted
		}
		break
	}

	art, err := b.assembler.FromWAV(gen.WAV)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	b.account(ctx, ModeBatch, outcome, voiceName, text, art, elapsed)
	b.log.Info("synthesis complete",
		zap.String("mode", ModeBatch),
		zap.String("voice", voiceName),
		zap.String("outcome", outcome),
		zap.Int("attempts", state.Attempt()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("audio_seconds", art.Duration().Seconds()))

	return &Result{
		Artifact:     art,
		Voice:        voiceName,
		Outcome:      outcome,
		Attempts:     state.Attempt(),
		BadCase:      gen.BadCase,
		BadCaseRatio: gen.BadCaseRatio,
		Elapsed:      elapsed,
	}, nil
}

// SynthesizeStream generates audio and hands each PCM chunk to sink in
// arrival order, then assembles the full artifact from the drained stream.
// The runner applies the caller's retry settings itself: chunks already
// delivered cannot be recalled, so there is no broker-side quality loop.
func (b *Broker) SynthesizeStream(ctx context.Context, req Request, sink func([]byte) error) (*Result, error) {
	text, err := b.checkText(req.Text)
	if err != nil {
		return nil, err
	}

	req = b.withDefaults(req)
	voiceName, profile := b.resolveVoice(req.Voice)

	params := engine.Params{
		Text:               text,
		CFGValue:           req.CFGValue,
		InferenceTimesteps: req.InferenceTimesteps,
		Retry: engine.RetryPassthrough{
			Enabled:        req.Retry.Enabled,
			MaxTimes:       req.Retry.MaxAttempts,
			RatioThreshold: req.Retry.RatioThreshold,
		},
	}
	if profile != nil {
		params.PromptAudioPath = profile.AudioPath
		params.PromptText = profile.PromptText
	}

	started := time.Now()
	stream, err := b.eng.GenerateStream(ctx, params)
	if err != nil {
		b.metrics.EngineErrors.WithLabelValues(b.eng.Name(), "stream").Inc()
		return nil, err
	}

	chunks, err := b.assembler.Drain(ctx, stream.Chunks, stream.Errs, sink)
	if err != nil {
		if errors.Is(err, audio.ErrIncompleteStream) {
			b.metrics.EngineErrors.WithLabelValues(b.eng.Name(), "stream").Inc()
		}
		return nil, err
	}

	art, err := b.assembler.FromPCMChunks(chunks, stream.SampleRate)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	b.account(ctx, ModeStream, OutcomeAccepted, voiceName, text, art, elapsed)
	b.log.Info("synthesis complete",
		zap.String("mode", ModeStream),
		zap.String("voice", voiceName),
		zap.Duration("elapsed", elapsed),
		zap.Float64("audio_seconds", art.Duration().Seconds()))

	return &Result{
		Artifact: art,
		Voice:    voiceName,
		Outcome:  OutcomeAccepted,
		Attempts: 1,
		Elapsed:  elapsed,
	}, nil
}

// Persist copies an artifact into the outputs directory under a
// voice-and-timestamp name and returns the destination path.
func (b *Broker) Persist(art *audio.Artifact, voiceName string) (string, error) {
	if art == nil {
		return "", fmt.Errorf("%w: nil artifact", ErrInvalidRequest)
	}
	name := strings.TrimSpace(voiceName)
	if name == "" {
		name = voicestore.DefaultVoice
	}
	filename := fmt.Sprintf("%s_%s.wav", name, time.Now().Format("20060102_150405"))
	dst := filepath.Join(b.outputsDir, filename)
	if err := audio.WriteWAVPCM16LEFile(dst, art.PCM, art.SampleRate); err != nil {
		return "", fmt.Errorf("persist output: %w", err)
	}
	b.log.Info("output saved", zap.String("path", dst))
	return dst, nil
}

func (b *Broker) checkText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w: empty text", ErrInvalidRequest)
	}
	if max := b.defaults.MaxInputChars; max > 0 && utf8.RuneCountInString(text) > max {
		return "", fmt.Errorf("%w: text exceeds %d characters", ErrInvalidRequest, max)
	}
	return text, nil
}

func (b *Broker) withDefaults(req Request) Request {
	if req.CFGValue == 0 {
		req.CFGValue = b.defaults.CFGValue
	}
	if req.InferenceTimesteps == 0 {
		req.InferenceTimesteps = b.defaults.InferenceTimesteps
	}
	return req
}

// resolveVoice maps the requested name to conditioning inputs, degrading to
// unconditioned synthesis when the voice is missing or incomplete. The
// requested name is kept for accounting either way.
func (b *Broker) resolveVoice(requested string) (string, *voicestore.Profile) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = voicestore.DefaultVoice
	}
	profile, err := b.voices.Resolve(name)
	if err != nil {
		b.log.Warn("voice resolution failed, synthesizing unconditioned",
			zap.String("voice", name), zap.Error(err))
		return name, nil
	}
	return name, profile
}

// account folds a completed request into the usage counters, instruments and
// the history ledger.
func (b *Broker) account(ctx context.Context, mode, outcome, voiceName, text string, art *audio.Artifact, elapsed time.Duration) {
	words := len(strings.Fields(text))
	b.usage.Record(words, elapsed, art.Duration())
	b.metrics.SynthesisRequests.WithLabelValues(mode, outcome).Inc()
	b.metrics.ObserveSynthesisLatency(elapsed)
	b.metrics.AudioSeconds.Add(art.Duration().Seconds())

	entry := history.Entry{
		Voice:             voiceName,
		Text:              text,
		Mode:              mode,
		Outcome:           outcome,
		Words:             words,
		AudioSeconds:      art.Duration().Seconds(),
		ProcessingSeconds: elapsed.Seconds(),
	}
	if err := b.ledger.Append(ctx, entry); err != nil {
		b.log.Warn("history append failed", zap.Error(err))
	}
}
