// Command voxctl is a command-line client for a running voxserve daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/client"
)

type options struct {
	server     string
	text       string
	voice      string
	stream     bool
	format     string
	out        string
	save       bool
	cfgValue   float64
	steps      int
	timeout    time.Duration
	listVoices bool
	usage      bool
	historyN   int
	waitReady  bool
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxctl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	flag.StringVar(&cfg.server, "server", "http://127.0.0.1:8080", "voxserve base URL")
	flag.StringVar(&cfg.text, "text", "", "text to synthesize")
	flag.StringVar(&cfg.voice, "voice", "", "voice name (empty uses the server default)")
	flag.BoolVar(&cfg.stream, "stream", false, "stream PCM chunks instead of waiting for the full take")
	flag.StringVar(&cfg.format, "format", "wav", "output format: wav or pcm")
	flag.StringVar(&cfg.out, "out", "", "output file (default speech.wav or speech.pcm)")
	flag.BoolVar(&cfg.save, "save", false, "also keep a copy in the server's outputs directory")
	flag.Float64Var(&cfg.cfgValue, "cfg", 0, "guidance value override (0 uses the server default)")
	flag.IntVar(&cfg.steps, "steps", 0, "inference timesteps override (0 uses the server default)")
	flag.DurationVar(&cfg.timeout, "timeout", 2*time.Minute, "overall request timeout")
	flag.BoolVar(&cfg.listVoices, "list-voices", false, "list available voices and exit")
	flag.BoolVar(&cfg.usage, "usage", false, "print lifetime usage counters and exit")
	flag.IntVar(&cfg.historyN, "history", 0, "print the N most recent syntheses and exit")
	flag.BoolVar(&cfg.waitReady, "wait-ready", false, "wait until the server's engine is ready")
	flag.Parse()

	cfg.server = strings.TrimRight(strings.TrimSpace(cfg.server), "/")
	if cfg.server == "" {
		return options{}, fmt.Errorf("server is required")
	}
	cfg.text = strings.TrimSpace(cfg.text)
	cfg.format = strings.ToLower(strings.TrimSpace(cfg.format))
	if cfg.format != "wav" && cfg.format != "pcm" {
		return options{}, fmt.Errorf("format must be wav or pcm")
	}
	if cfg.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be > 0")
	}
	if cfg.historyN < 0 {
		return options{}, fmt.Errorf("history must be >= 0")
	}

	actions := 0
	if cfg.text != "" {
		actions++
	}
	if cfg.listVoices {
		actions++
	}
	if cfg.usage {
		actions++
	}
	if cfg.historyN > 0 {
		actions++
	}
	if actions > 1 {
		return options{}, fmt.Errorf("choose one of -text, -list-voices, -usage, -history")
	}
	if actions == 0 && !cfg.waitReady {
		return options{}, fmt.Errorf("nothing to do: pass -text, -list-voices, -usage, -history or -wait-ready")
	}

	if cfg.out == "" {
		cfg.out = defaultOutPath(cfg.format)
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	// The context deadline bounds every call, so the HTTP client itself
	// carries no timeout; a fixed one would cut long streams short.
	cli, err := client.New(cfg.server, 0)
	if err != nil {
		return err
	}

	if cfg.waitReady {
		if err := cli.WaitReady(ctx, 250*time.Millisecond, 3*time.Second); err != nil {
			return fmt.Errorf("wait for readiness: %w", err)
		}
		fmt.Println("voxctl: server ready")
	}

	switch {
	case cfg.listVoices:
		return listVoices(ctx, cli)
	case cfg.usage:
		return printUsage(ctx, cli)
	case cfg.historyN > 0:
		return printHistory(ctx, cli, cfg.historyN)
	case cfg.text != "":
		return synthesize(ctx, cli, cfg)
	}
	return nil
}

func listVoices(ctx context.Context, cli *client.Client) error {
	voices, err := cli.ListVoices(ctx)
	if err != nil {
		return err
	}
	if len(voices) == 0 {
		fmt.Println("no voices recorded yet")
		return nil
	}
	for _, v := range voices {
		fmt.Println(v)
	}
	return nil
}

func printUsage(ctx context.Context, cli *client.Client) error {
	snap, err := cli.Usage(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queries:          %d\n", snap.TotalQueries)
	fmt.Printf("words:            %d\n", snap.TotalWords)
	fmt.Printf("processing_time:  %.2fs\n", snap.TotalProcessingTime)
	fmt.Printf("audio_generated:  %.2fs\n", snap.TotalAudioSeconds)
	return nil
}

func printHistory(ctx context.Context, cli *client.Client, limit int) error {
	entries, err := cli.History(ctx, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-12s %-9s %6.2fs  %s\n",
			e.CreatedAt.Format(time.RFC3339), e.Voice, e.Outcome, e.AudioSeconds, oneLine(e.Text, 60))
	}
	return nil
}

func synthesize(ctx context.Context, cli *client.Client, cfg options) error {
	req := client.SpeechRequest{
		Input:              cfg.text,
		Voice:              cfg.voice,
		ResponseFormat:     cfg.format,
		Save:               cfg.save,
		CFGValue:           cfg.cfgValue,
		InferenceTimesteps: cfg.steps,
	}

	if cfg.stream {
		return synthesizeStream(ctx, cli, cfg, req)
	}

	res, err := cli.Synthesize(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfg.out, res.Audio, 0o644); err != nil {
		return err
	}
	fmt.Printf("voxctl: wrote %s (%d bytes)\n", cfg.out, len(res.Audio))
	if res.SavedFile != "" {
		fmt.Printf("voxctl: server kept %s\n", res.SavedFile)
	}
	return nil
}

func synthesizeStream(ctx context.Context, cli *client.Client, cfg options, req client.SpeechRequest) error {
	start := time.Now()
	var (
		pcm        []byte
		chunks     int
		firstChunk time.Duration
	)
	rate, err := cli.SynthesizeStream(ctx, req, func(chunk []byte) error {
		if chunks == 0 {
			firstChunk = time.Since(start)
		}
		chunks++
		pcm = append(pcm, chunk...)
		return nil
	})
	if err != nil {
		return err
	}
	if len(pcm) == 0 {
		return fmt.Errorf("stream delivered no audio")
	}
	if err := writeStreamOutput(cfg.out, cfg.format, pcm, rate); err != nil {
		return err
	}
	fmt.Printf("voxctl: wrote %s (%d chunks, first after %s)\n", cfg.out, chunks, firstChunk.Round(time.Millisecond))
	return nil
}

// writeStreamOutput persists streamed audio. The stream is always raw PCM, so
// a wav request gets the container added here.
func writeStreamOutput(path, format string, pcm []byte, sampleRate int) error {
	if format == "pcm" {
		return os.WriteFile(path, pcm, 0o644)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("stream reported no sample rate; cannot build a WAV header")
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return err
	}
	return os.WriteFile(path, wav, 0o644)
}

func defaultOutPath(format string) string {
	if format == "pcm" {
		return "speech.pcm"
	}
	return "speech.wav"
}

// oneLine flattens text for tabular output, truncating long inputs.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if max > 3 && len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}
