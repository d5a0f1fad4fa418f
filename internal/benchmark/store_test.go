package benchmark

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dcsim/internal/metrics"
)

func sampleResult(id string) Result {
	return Result{
		RunID:         id,
		Protocol:      "paxos",
		NumNodes:      3,
		NumClients:    1,
		PacketLoss:    0.1,
		BaseDelay:     1.0,
		Requests:      10,
		Commits:       9,
		Aborts:        1,
		CommitRate:    0.9,
		MessagesSent:  120,
		Dropped:       12,
		Duration:      250,
		ThroughputTPS: 36,
		Latency:       metrics.LatencyStats{Count: 9, Min: 3, Max: 40, Avg: 8, Median: 6, P95: 30, P99: 40},
		Timestamp:     time.Now().Round(0),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	want := map[string]Result{
		"run-a": sampleResult("run-a"),
		"run-b": sampleResult("run-b"),
	}
	for _, r := range want {
		if err := s.Save(r); err != nil {
			t.Fatalf("save %s: %v", r.RunID, err)
		}
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("listed %d results, want %d", len(got), len(want))
	}
	for _, r := range got {
		w, ok := want[r.RunID]
		if !ok {
			t.Fatalf("unexpected run id %q", r.RunID)
		}
		if r.Commits != w.Commits || r.Latency != w.Latency || !r.Timestamp.Equal(w.Timestamp) {
			t.Fatalf("roundtrip mismatch: got %+v, want %+v", r, w)
		}
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(sampleResult("run-a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "run-a" {
		t.Fatalf("listed %+v after reopen", got)
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.csv")
	results := []Result{sampleResult("run-a"), sampleResult("run-b")}
	if err := WriteCSV(path, results); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("%d rows, want header plus 2", len(rows))
	}
	if rows[0][0] != "run_id" || len(rows[0]) != len(csvHeader) {
		t.Fatalf("header = %v", rows[0])
	}
	if rows[1][0] != "run-a" || rows[2][0] != "run-b" {
		t.Fatalf("data rows = %v", rows[1:])
	}
	if rows[1][8] != "9" {
		t.Fatalf("commits column = %q, want 9", rows[1][8])
	}
}
