package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestRecordEntityByCategory(t *testing.T) {
	m := New()
	m.RecordEntity("PER")
	m.RecordEntity("PER")
	m.RecordEntity("LOC")
	m.RecordEntity("ORG")
	m.RecordEntity("MISC")
	m.RecordEntity("something-else")

	s := m.Snapshot()
	if s.Replacements.Persons != 2 {
		t.Errorf("persons: want 2, got %d", s.Replacements.Persons)
	}
	if s.Replacements.Locations != 1 || s.Replacements.Organizations != 1 {
		t.Errorf("loc/org wrong: %+v", s.Replacements)
	}
	if s.Replacements.Misc != 2 {
		t.Errorf("misc should absorb unknown categories: got %d", s.Replacements.Misc)
	}
}

func TestLatencyMinMeanMax(t *testing.T) {
	m := New()
	m.RecordEmailLatency(10 * time.Millisecond)
	m.RecordEmailLatency(20 * time.Millisecond)
	m.RecordEmailLatency(30 * time.Millisecond)

	s := m.Snapshot().Latency.EmailMs
	if s.Count != 3 {
		t.Fatalf("count: want 3, got %d", s.Count)
	}
	if s.MinMs != 10 || s.MaxMs != 30 {
		t.Errorf("min/max wrong: %+v", s)
	}
	if s.MeanMs != 20 {
		t.Errorf("mean: want 20, got %v", s.MeanMs)
	}
}

func TestEmptyLatencySnapshot(t *testing.T) {
	m := New()
	s := m.Snapshot().Latency.NERMs
	if s.Count != 0 || s.MinMs != 0 || s.MeanMs != 0 || s.MaxMs != 0 {
		t.Errorf("zero-value latency snapshot expected, got %+v", s)
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	m := New()
	m.EmailsProcessed.Add(5)
	m.CollisionRetries.Add(1)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Emails.Processed != 5 || back.Collisions.Retries != 1 {
		t.Errorf("round-trip lost values: %+v", back)
	}
}

func TestConcurrentCounters(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.NumbersReplaced.Add(1)
				m.RecordEntity("PER")
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.Replacements.Numbers != 8000 || s.Replacements.Persons != 8000 {
		t.Errorf("concurrent counts wrong: %+v", s.Replacements)
	}
}
