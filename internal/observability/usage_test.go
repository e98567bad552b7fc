package observability

import (
	"sync"
	"testing"
	"time"
)

func TestUsageAggregatorRecordAndSnapshot(t *testing.T) {
	u := NewUsageAggregator()
	u.Record(12, 1500*time.Millisecond, 4*time.Second)
	u.Record(3, 500*time.Millisecond, time.Second)

	snap := u.Snapshot()
	if snap.TotalQueries != 2 {
		t.Fatalf("TotalQueries = %d, want 2", snap.TotalQueries)
	}
	if snap.TotalWords != 15 {
		t.Fatalf("TotalWords = %d, want 15", snap.TotalWords)
	}
	if snap.TotalProcessingTime != 2.0 {
		t.Fatalf("TotalProcessingTime = %v, want 2.0", snap.TotalProcessingTime)
	}
	if snap.TotalAudioSeconds != 5.0 {
		t.Fatalf("TotalAudioSeconds = %v, want 5.0", snap.TotalAudioSeconds)
	}
}

func TestUsageAggregatorZeroValueSnapshot(t *testing.T) {
	u := NewUsageAggregator()
	snap := u.Snapshot()
	if snap.TotalQueries != 0 || snap.TotalWords != 0 {
		t.Fatalf("fresh snapshot = %+v, want all zero", snap)
	}
}

func TestUsageAggregatorConcurrentRecords(t *testing.T) {
	u := NewUsageAggregator()

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				u.Record(3, 10*time.Millisecond, 40*time.Millisecond)
			}
		}()
	}

	// Every Record carries exactly 3 words, so any consistent snapshot
	// holds words == 3*queries regardless of how far the workers got.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for i := 0; i < 200; i++ {
			snap := u.Snapshot()
			if snap.TotalWords != 3*snap.TotalQueries {
				t.Errorf("TotalWords = %d with TotalQueries = %d, want exactly 3x", snap.TotalWords, snap.TotalQueries)
				return
			}
		}
	}()

	wg.Wait()
	<-readerDone

	snap := u.Snapshot()
	if snap.TotalQueries != workers*perWorker {
		t.Fatalf("TotalQueries = %d, want %d", snap.TotalQueries, workers*perWorker)
	}
	if snap.TotalWords != 3*workers*perWorker {
		t.Fatalf("TotalWords = %d, want %d", snap.TotalWords, 3*workers*perWorker)
	}
}
