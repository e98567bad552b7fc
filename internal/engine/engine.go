// Package engine defines the synthesis model boundary. The broker talks to a
// model runner through this interface only; everything behind it (process
// layout, wire format, warm-up) is a backend concern.
package engine

import (
	"context"
	"errors"
)

// ErrGenerationFailed marks model or transport failures. These surface to the
// caller immediately; the broker's quality loop never retries them.
var ErrGenerationFailed = errors.New("generation failed")

// Params describes one generation attempt.
type Params struct {
	Text               string
	PromptAudioPath    string
	PromptText         string
	CFGValue           float64
	InferenceTimesteps int
	Retry              RetryPassthrough
}

// RetryPassthrough forwards the caller's bad-case retry settings into the
// model runner. The broker keeps it disabled for batch generation, where it
// owns the quality loop itself, and enables it for streaming generation,
// where chunks already delivered to the caller cannot be recalled.
type RetryPassthrough struct {
	Enabled        bool
	MaxTimes       int
	RatioThreshold float64
}

// GenResult is one complete generation: a WAV payload plus the model's
// quality diagnostics for the attempt.
type GenResult struct {
	WAV          []byte
	SampleRate   int
	BadCase      bool
	BadCaseRatio float64
}

// StreamResult carries a finite, non-restartable chunk sequence of raw
// PCM16LE audio. The producer closes Chunks when finished and sends at most
// one terminal error on Errs before closing it.
type StreamResult struct {
	Chunks     <-chan []byte
	Errs       <-chan error
	SampleRate int
}

// Engine is a synthesis backend.
type Engine interface {
	Name() string
	Health(ctx context.Context) error
	Generate(ctx context.Context, p Params) (*GenResult, error)
	GenerateStream(ctx context.Context, p Params) (*StreamResult, error)
}
