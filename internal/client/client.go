// Package client is the Go client for the voxserve HTTP API. voxctl is its
// main consumer, but it works anywhere a program needs synthesis over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vox-studio/voxserve/internal/history"
	"github.com/vox-studio/voxserve/internal/observability"
	"github.com/vox-studio/voxserve/internal/reliability"
)

const (
	headerSampleRate = "X-Voxserve-Sample-Rate"
	headerSavedFile  = "X-Voxserve-Saved-File"

	// maxAudioBytes bounds a batch response read. At 16 kHz mono that is
	// over twenty minutes of audio.
	maxAudioBytes = 40 << 20
)

// Client calls a voxserve daemon over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the daemon at baseURL. A zero timeout leaves
// requests bounded only by their context, which long streams want.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// SpeechRequest describes one synthesis call. Zero-valued tuning fields keep
// the server's configured defaults.
type SpeechRequest struct {
	Input              string  `json:"input"`
	Voice              string  `json:"voice,omitempty"`
	ResponseFormat     string  `json:"response_format,omitempty"`
	Save               bool    `json:"save,omitempty"`
	CFGValue           float64 `json:"cfg_value,omitempty"`
	InferenceTimesteps int     `json:"inference_timesteps,omitempty"`
	RetryBadCase       *bool   `json:"retry_badcase,omitempty"`
	RetryMaxTimes      int     `json:"retry_badcase_max_times,omitempty"`
	RetryThreshold     float64 `json:"retry_badcase_ratio_threshold,omitempty"`
}

type speechPayload struct {
	SpeechRequest
	Stream bool `json:"stream,omitempty"`
}

// SpeechResult is a completed batch synthesis.
type SpeechResult struct {
	// Audio holds the response body: a WAV file, or raw PCM16LE when the
	// request asked for pcm.
	Audio []byte
	// SampleRate comes from the response header on pcm responses. WAV
	// responses carry the rate in the container instead, so it is zero.
	SampleRate int
	// SavedFile is the server-side output path when save was requested.
	SavedFile string
}

// Synthesize runs one batch synthesis and returns the full audio.
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) (SpeechResult, error) {
	res, err := c.postSpeech(ctx, speechPayload{SpeechRequest: req})
	if err != nil {
		return SpeechResult{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxAudioBytes))
	if err != nil {
		return SpeechResult{}, err
	}
	if res.StatusCode != http.StatusOK {
		return SpeechResult{}, apiError(res.StatusCode, body)
	}

	out := SpeechResult{
		Audio:     body,
		SavedFile: res.Header.Get(headerSavedFile),
	}
	if v := res.Header.Get(headerSampleRate); v != "" {
		out.SampleRate, _ = strconv.Atoi(v)
	}
	return out, nil
}

// SynthesizeStream runs a streaming synthesis, passing each raw PCM chunk to
// fn as it arrives. It returns the stream's sample rate. A non-nil error from
// fn aborts the download and is returned as-is.
func (c *Client) SynthesizeStream(ctx context.Context, req SpeechRequest, fn func(chunk []byte) error) (int, error) {
	res, err := c.postSpeech(ctx, speechPayload{SpeechRequest: req, Stream: true})
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		return 0, apiError(res.StatusCode, body)
	}
	sampleRate, _ := strconv.Atoi(res.Header.Get(headerSampleRate))

	buf := make([]byte, 32<<10)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			if err := fn(buf[:n]); err != nil {
				return sampleRate, err
			}
		}
		if errors.Is(readErr, io.EOF) {
			return sampleRate, nil
		}
		if readErr != nil {
			return sampleRate, readErr
		}
	}
}

// ListVoices returns the names usable as a speech request's voice field.
func (c *Client) ListVoices(ctx context.Context) ([]string, error) {
	var out struct {
		Voices []string `json:"voices"`
	}
	if err := c.getJSON(ctx, "/v1/voices", &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// Usage returns the daemon's lifetime usage counters.
func (c *Client) Usage(ctx context.Context) (observability.UsageSnapshot, error) {
	var out observability.UsageSnapshot
	err := c.getJSON(ctx, "/v1/metrics", &out)
	return out, err
}

// History returns recent ledger entries, newest first. A non-positive limit
// takes the server default.
func (c *Client) History(ctx context.Context, limit int) ([]history.Entry, error) {
	path := "/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Entries []history.Entry `json:"entries"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// Ready reports whether the daemon can currently reach its engine.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusOK {
		return nil
	}
	var status struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &status) == nil && strings.TrimSpace(status.Reason) != "" {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, status.Reason)
	}
	return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
}

// WaitReady polls Ready with capped exponential backoff until the daemon
// answers or ctx expires.
func (c *Client) WaitReady(ctx context.Context, base, cap time.Duration) error {
	return reliability.WaitReady(ctx, c.Ready, base, cap)
}

func (c *Client) postSpeech(ctx context.Context, payload speechPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return apiError(res.StatusCode, body)
	}
	return json.Unmarshal(body, out)
}

// apiError decodes the server's error envelope, falling back to the raw body
// for anything that is not one.
func apiError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
