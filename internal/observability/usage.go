package observability

import (
	"sync"
	"time"
)

// UsageSnapshot is a point-in-time copy of the lifetime usage counters.
// JSON field names match the document served on the metrics read endpoint.
type UsageSnapshot struct {
	TotalQueries        int64   `json:"total_queries"`
	TotalWords          int64   `json:"total_words"`
	TotalProcessingTime float64 `json:"total_processing_time"`
	TotalAudioSeconds   float64 `json:"total_audio_duration_seconds"`
}

// UsageAggregator accumulates lifetime usage counters across concurrent
// request completions. All four counters move under one lock, so a snapshot
// never sees a request that bumped the query count but not the rest.
type UsageAggregator struct {
	mu             sync.RWMutex
	queries        int64
	words          int64
	processingSecs float64
	audioSecs      float64
}

func NewUsageAggregator() *UsageAggregator {
	return &UsageAggregator{}
}

// Record folds one completed request into the counters as a single unit.
func (u *UsageAggregator) Record(words int, processing, audio time.Duration) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.queries++
	u.words += int64(words)
	u.processingSecs += processing.Seconds()
	u.audioSecs += audio.Seconds()
}

func (u *UsageAggregator) Snapshot() UsageSnapshot {
	if u == nil {
		return UsageSnapshot{}
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return UsageSnapshot{
		TotalQueries:        u.queries,
		TotalWords:          u.words,
		TotalProcessingTime: u.processingSecs,
		TotalAudioSeconds:   u.audioSecs,
	}
}
