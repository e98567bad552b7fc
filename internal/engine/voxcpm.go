package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	maxBatchAudioBytes = 64 << 20
	maxErrorBodyBytes  = 1 << 20
	streamChunkBytes   = 32 * 1024
)

// VoxCPMConfig configures the HTTP adapter to a VoxCPM model runner.
type VoxCPMConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	// SampleRate is the fallback when the runner omits its sample-rate header.
	SampleRate int
}

// VoxCPM talks to a VoxCPM model runner over HTTP. One runner request equals
// one generation attempt; quality diagnostics ride response headers.
type VoxCPM struct {
	cfg        VoxCPMConfig
	httpClient *http.Client
	log        *zap.Logger
}

func NewVoxCPM(cfg VoxCPMConfig, log *zap.Logger) *VoxCPM {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	return &VoxCPM{
		cfg: cfg,
		// Streaming responses outlive any fixed client timeout; deadlines are
		// applied per request through the context instead.
		httpClient: &http.Client{},
		log:        log,
	}
}

func (e *VoxCPM) Name() string { return "voxcpm" }

type runnerGenerateRequest struct {
	Text                       string  `json:"text"`
	PromptWavPath              string  `json:"prompt_wav_path,omitempty"`
	PromptText                 string  `json:"prompt_text,omitempty"`
	CFGValue                   float64 `json:"cfg_value"`
	InferenceTimesteps         int     `json:"inference_timesteps"`
	RetryBadcase               bool    `json:"retry_badcase"`
	RetryBadcaseMaxTimes       int     `json:"retry_badcase_max_times,omitempty"`
	RetryBadcaseRatioThreshold float64 `json:"retry_badcase_ratio_threshold,omitempty"`
}

type runnerErrorResponse struct {
	Detail string `json:"detail"`
}

// Health probes the runner's readiness endpoint. It fails until the model
// weights are loaded.
func (e *VoxCPM) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	res, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runner unreachable: %w", err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxErrorBodyBytes))

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("runner not ready: HTTP %d", res.StatusCode)
	}
	return nil
}

func (e *VoxCPM) Generate(ctx context.Context, p Params) (*GenResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	res, err := e.post(ctx, "/v1/generate", p)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, e.asGenerationError(res)
	}

	wavBytes, err := io.ReadAll(io.LimitReader(res.Body, maxBatchAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read runner response: %v", ErrGenerationFailed, err)
	}
	if len(wavBytes) == 0 {
		return nil, fmt.Errorf("%w: runner returned an empty payload", ErrGenerationFailed)
	}

	result := &GenResult{
		WAV:          wavBytes,
		SampleRate:   headerInt(res.Header, "X-Voxcpm-Sample-Rate", e.cfg.SampleRate),
		BadCase:      headerBool(res.Header, "X-Voxcpm-Bad-Case"),
		BadCaseRatio: headerFloat(res.Header, "X-Voxcpm-Bad-Case-Ratio"),
	}
	e.log.Debug("runner generate complete",
		zap.Int("bytes", len(result.WAV)),
		zap.Bool("bad_case", result.BadCase),
		zap.Float64("bad_case_ratio", result.BadCaseRatio),
	)
	return result, nil
}

func (e *VoxCPM) GenerateStream(ctx context.Context, p Params) (*StreamResult, error) {
	res, err := e.post(ctx, "/v1/generate/stream", p)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		return nil, e.asGenerationError(res)
	}

	chunks := make(chan []byte, 8)
	errs := make(chan error, 1)

	go func() {
		defer res.Body.Close()
		defer close(chunks)
		defer close(errs)

		buf := make([]byte, streamChunkBytes)
		for {
			n, err := res.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("read runner stream: %w", err)
				return
			}
		}
	}()

	return &StreamResult{
		Chunks:     chunks,
		Errs:       errs,
		SampleRate: headerInt(res.Header, "X-Voxcpm-Sample-Rate", e.cfg.SampleRate),
	}, nil
}

func (e *VoxCPM) post(ctx context.Context, path string, p Params) (*http.Response, error) {
	body := runnerGenerateRequest{
		Text:                       p.Text,
		PromptWavPath:              p.PromptAudioPath,
		PromptText:                 p.PromptText,
		CFGValue:                   p.CFGValue,
		InferenceTimesteps:         p.InferenceTimesteps,
		RetryBadcase:               p.Retry.Enabled,
		RetryBadcaseMaxTimes:       p.Retry.MaxTimes,
		RetryBadcaseRatioThreshold: p.Retry.RatioThreshold,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode runner request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build runner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return res, nil
}

func (e *VoxCPM) asGenerationError(res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
	detail := strings.TrimSpace(string(raw))
	var parsed runnerErrorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && strings.TrimSpace(parsed.Detail) != "" {
		detail = strings.TrimSpace(parsed.Detail)
	}
	if detail == "" {
		detail = http.StatusText(res.StatusCode)
	}
	return fmt.Errorf("%w: runner HTTP %d: %s", ErrGenerationFailed, res.StatusCode, detail)
}

func headerInt(h http.Header, key string, fallback int) int {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func headerBool(h http.Header, key string) bool {
	switch strings.ToLower(strings.TrimSpace(h.Get(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func headerFloat(h http.Header, key string) float64 {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
