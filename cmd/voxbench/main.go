// Command voxbench replays synthesis requests against a running voxserve
// daemon and reports latency and realtime factor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/vox-studio/voxserve/internal/audio"
	"github.com/vox-studio/voxserve/internal/client"
)

type options struct {
	baseURL    string
	voice      string
	runs       int
	stream     bool
	runTimeout time.Duration
	texts      []string
	verbose    bool
}

type runStat struct {
	total      time.Duration
	firstChunk time.Duration
	audioSecs  float64
}

var defaultUtterances = []string{
	"The quick brown fox jumps over the lazy dog.",
	"Synthesis latency depends on text length, timesteps and hardware.",
	"A short line.",
	"Streaming delivery should start well before the full take is rendered, especially for paragraph-length input like this one.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxbench: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxbench: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var runTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voxserve base URL")
	flag.StringVar(&cfg.voice, "voice", "", "voice name (empty uses the server default)")
	flag.IntVar(&cfg.runs, "runs", 10, "number of synthesis requests to issue")
	flag.BoolVar(&cfg.stream, "stream", false, "measure streaming first-chunk latency instead of batch totals")
	flag.IntVar(&runTimeoutMS, "run-timeout-ms", 120000, "per-request timeout in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-run progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.runs <= 0 {
		return options{}, fmt.Errorf("runs must be > 0")
	}
	if runTimeoutMS < 1000 {
		runTimeoutMS = 1000
	}
	cfg.runTimeout = time.Duration(runTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	cli, err := client.New(cfg.baseURL, 0)
	if err != nil {
		return err
	}

	stats := make([]runStat, 0, cfg.runs)
	for i := 0; i < cfg.runs; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		stat, err := oneRun(cli, cfg, text)
		if err != nil {
			return fmt.Errorf("run %d: %w", i+1, err)
		}
		stats = append(stats, stat)
		if cfg.verbose {
			if cfg.stream {
				fmt.Printf("voxbench: run %d/%d first_chunk=%s total=%s audio=%.2fs rtf=%.2f\n",
					i+1, cfg.runs, stat.firstChunk.Round(time.Millisecond), stat.total.Round(time.Millisecond), stat.audioSecs, rtf(stat))
			} else {
				fmt.Printf("voxbench: run %d/%d total=%s audio=%.2fs rtf=%.2f\n",
					i+1, cfg.runs, stat.total.Round(time.Millisecond), stat.audioSecs, rtf(stat))
			}
		}
	}

	report(cfg, stats)
	return nil
}

func oneRun(cli *client.Client, cfg options, text string) (runStat, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.runTimeout)
	defer cancel()

	req := client.SpeechRequest{Input: text, Voice: cfg.voice}
	start := time.Now()

	if cfg.stream {
		var received int
		var first time.Duration
		rate, err := cli.SynthesizeStream(ctx, req, func(chunk []byte) error {
			if received == 0 {
				first = time.Since(start)
			}
			received += len(chunk)
			return nil
		})
		if err != nil {
			return runStat{}, err
		}
		return runStat{
			total:      time.Since(start),
			firstChunk: first,
			audioSecs:  audioSeconds(received, rate),
		}, nil
	}

	res, err := cli.Synthesize(ctx, req)
	if err != nil {
		return runStat{}, err
	}
	elapsed := time.Since(start)
	pcm, rate, err := audio.DecodeWAVPCM16(res.Audio)
	if err != nil {
		return runStat{}, fmt.Errorf("decode response wav: %w", err)
	}
	return runStat{total: elapsed, audioSecs: audioSeconds(len(pcm), rate)}, nil
}

func report(cfg options, stats []runStat) {
	totals := make([]time.Duration, len(stats))
	for i, s := range stats {
		totals[i] = s.total
	}
	lo, mid, hi := spread(totals)
	fmt.Printf("voxbench: %d runs, total min=%s median=%s max=%s\n",
		len(stats), lo.Round(time.Millisecond), mid.Round(time.Millisecond), hi.Round(time.Millisecond))

	if cfg.stream {
		firsts := make([]time.Duration, len(stats))
		for i, s := range stats {
			firsts[i] = s.firstChunk
		}
		lo, mid, hi = spread(firsts)
		fmt.Printf("voxbench: first chunk min=%s median=%s max=%s\n",
			lo.Round(time.Millisecond), mid.Round(time.Millisecond), hi.Round(time.Millisecond))
	}

	var processing, generated float64
	for _, s := range stats {
		processing += s.total.Seconds()
		generated += s.audioSecs
	}
	if generated > 0 {
		fmt.Printf("voxbench: mean rtf=%.2f over %.1fs of audio\n", processing/generated, generated)
	}
}

// spread returns min, median and max of a non-empty sample.
func spread(ds []time.Duration) (lo, mid, hi time.Duration) {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[0], sorted[len(sorted)/2], sorted[len(sorted)-1]
}

// audioSeconds converts a PCM16LE mono byte count to seconds.
func audioSeconds(pcmBytes, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmBytes) / 2 / float64(sampleRate)
}

// rtf is processing time over audio time; below 1.0 is faster than realtime.
func rtf(s runStat) float64 {
	if s.audioSecs <= 0 {
		return 0
	}
	return s.total.Seconds() / s.audioSecs
}
