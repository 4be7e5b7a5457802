package anomaly

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ids-guard/internal/model"
)

func batchWithOutlierSource(outlierIP string) []model.NormalizedRecord {
	var records []model.NormalizedRecord
	for i := 0; i < 199; i++ {
		records = append(records, model.NormalizedRecord{SrcIP: "10.0.0.1", DestIP: "10.0.0.9", DestPort: 80, Proto: "TCP"})
	}
	return append(records, model.NormalizedRecord{SrcIP: outlierIP, DestIP: "10.0.0.9", DestPort: 4444, Proto: "UDP"})
}

func TestAssignProtoCodes(t *testing.T) {
	records := []model.NormalizedRecord{{Proto: "UDP"}, {Proto: "ICMP"}, {Proto: "TCP"}, {Proto: "UDP"}}
	AssignProtoCodes(records)

	want := []int{2, 0, 1, 2}
	for i, r := range records {
		if r.ProtoCode != want[i] {
			t.Errorf("records[%d].ProtoCode = %d, want %d", i, r.ProtoCode, want[i])
		}
	}
}

func TestScoreProducesCandidates(t *testing.T) {
	records := batchWithOutlierSource("203.0.113.50")
	res := NewScorer(NewIsolationForest(0.01, 42), nil, nil).Score(records)

	if len(res.Candidates) != 1 || res.Candidates[0] != "203.0.113.50" {
		t.Fatalf("candidates = %v", res.Candidates)
	}
	if res.Scored != 200 || res.Anomalous != 1 {
		t.Fatalf("scored = %d anomalous = %d", res.Scored, res.Anomalous)
	}
	if !records[199].IsAnomalous() {
		t.Fatal("outlier record not labelled anomalous")
	}
	if records[0].Anomaly == nil || *records[0].Anomaly != model.LabelNormal {
		t.Fatal("inlier record not labelled normal")
	}
}

func TestScoreWhitelistedNeverFlagged(t *testing.T) {
	records := batchWithOutlierSource("127.0.0.1")
	res := NewScorer(NewIsolationForest(0.01, 42), NewStaticWhitelist([]string{"127.0.0.1"}), nil).Score(records)

	for _, ip := range res.Candidates {
		if ip == "127.0.0.1" {
			t.Fatal("whitelisted IP became a candidate")
		}
	}
	if records[199].Anomaly != nil {
		t.Fatalf("whitelisted record label = %v, want nil", *records[199].Anomaly)
	}
	if res.Scored != 199 {
		t.Fatalf("scored = %d, want 199", res.Scored)
	}
}

func TestScoreBroadcastsLabelPerSource(t *testing.T) {
	records := batchWithOutlierSource("203.0.113.50")
	// same source also has an ordinary-looking record earlier in the batch
	records = append([]model.NormalizedRecord{{SrcIP: "203.0.113.50", DestIP: "10.0.0.9", DestPort: 80, Proto: "TCP"}}, records...)

	NewScorer(NewIsolationForest(0.01, 42), nil, nil).Score(records)

	first, last := records[0], records[len(records)-1]
	if first.Anomaly == nil || last.Anomaly == nil {
		t.Fatal("records of a scored source must carry a label")
	}
	if *first.Anomaly != *last.Anomaly {
		t.Fatalf("labels differ for one source: %d vs %d", *first.Anomaly, *last.Anomaly)
	}
}

type fixedLabels []int

func (f fixedLabels) FitPredict(points [][]float64) []int {
	return append([]int(nil), f[:len(points)]...)
}

func TestScoreLastLabelWinsPerSource(t *testing.T) {
	a, n := model.LabelAnomalous, model.LabelNormal
	tests := []struct {
		name       string
		labels     fixedLabels
		want       int
		candidates int
	}{
		{"anomalous then normal", fixedLabels{a, n, n}, n, 0},
		{"normal then anomalous", fixedLabels{n, n, a}, a, 1},
		{"anomalous in the middle", fixedLabels{n, a, n}, n, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := []model.NormalizedRecord{
				{SrcIP: "203.0.113.50", DestPort: 4444, Proto: "UDP"},
				{SrcIP: "203.0.113.50", DestPort: 80, Proto: "TCP"},
				{SrcIP: "203.0.113.50", DestPort: 443, Proto: "TCP"},
			}
			res := NewScorer(tt.labels, nil, nil).Score(records)

			for i, r := range records {
				if r.Anomaly == nil || *r.Anomaly != tt.want {
					t.Fatalf("records[%d].Anomaly = %v, want %d", i, r.Anomaly, tt.want)
				}
			}
			if len(res.Candidates) != tt.candidates {
				t.Fatalf("candidates = %v, want %d", res.Candidates, tt.candidates)
			}
			if res.Anomalous != 3*tt.candidates {
				t.Fatalf("anomalous = %d, want %d", res.Anomalous, 3*tt.candidates)
			}
		})
	}
}

func TestScoreSingleRecord(t *testing.T) {
	records := []model.NormalizedRecord{{SrcIP: "1.2.3.4", DestPort: 22, Proto: "TCP"}}
	res := NewScorer(NewIsolationForest(0.01, 42), nil, nil).Score(records)
	if len(res.Candidates) != 0 {
		t.Fatalf("candidates = %v, want none", res.Candidates)
	}
}

func TestWhitelistReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.txt")
	if err := os.WriteFile(path, []byte("10.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWhitelist([]string{"127.0.0.1"}, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Contains("10.0.0.1") || !w.Contains("127.0.0.1") {
		t.Fatalf("entries = %v", w.List())
	}

	if err := os.WriteFile(path, []byte("10.0.0.2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}
	if w.Contains("10.0.0.1") || !w.Contains("10.0.0.2") {
		t.Fatalf("after reload entries = %v", w.List())
	}
}

func TestWhitelistWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whitelist.txt")
	w, err := NewWhitelist(nil, path, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("192.0.2.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for !w.Contains("192.0.2.1") {
		if time.Now().After(deadline) {
			t.Fatal("whitelist change not picked up")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned %v", err)
	}
}
