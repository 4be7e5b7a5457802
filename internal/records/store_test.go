package records

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ids-guard/internal/model"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func sampleRecords() []model.NormalizedRecord {
	anomalous := model.LabelAnomalous
	return []model.NormalizedRecord{
		{SrcIP: "10.0.0.1", DestIP: "10.0.0.2", DestPort: 443, Proto: "TCP", AttackType: "flow", Timestamp: "2025-06-01T10:00:00.000000+0000", Country: "Unknown"},
		{SrcIP: "203.0.113.5", DestIP: "10.0.0.2", DestPort: 4444, Proto: "UDP", AttackType: "ET SCAN, odd", Timestamp: "1717236000.5", Country: "Japan", ProtoCode: 1, Anomaly: &anomalous},
	}
}

func TestCSVRoundTripKeepsLabels(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "src_ip,dest_ip,dest_port,proto,attack_type,timestamp,country,proto_code,anomaly\n") {
		t.Fatalf("unexpected header: %q", buf.String())
	}

	got, err := ReadCSV(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Anomaly != nil {
		t.Errorf("unlabelled record came back with %d", *got[0].Anomaly)
	}
	if !got[1].IsAnomalous() || got[1].AttackType != "ET SCAN, odd" || got[1].ProtoCode != 1 {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("src_ip,dest_ip\n1.1.1.1,2.2.2.2\n")); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestPublishPersistsAndSwaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged_logs.csv")
	store, err := NewStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if snap := store.Load(); snap == nil || len(snap.Records) != 0 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	alerts := []model.AlertRecord{{SrcIP: "203.0.113.5"}}
	snap, err := store.Publish(sampleRecords(), alerts)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Generation != 1 || store.Load() != snap {
		t.Fatalf("generation = %d, current swapped = %v", snap.Generation, store.Load() == snap)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("records file not written: %v", err)
	}

	reopened, err := NewStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(reopened.Load().Records); got != 2 {
		t.Fatalf("restored %d records, want 2", got)
	}
	if got := len(reopened.Load().Alerts); got != 0 {
		t.Fatalf("restored %d alerts, want 0", got)
	}
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "merged.csv"), testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Load()
				if n := len(snap.Records); n != 0 && n != 2 {
					t.Errorf("partial snapshot with %d records", n)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		if _, err := store.Publish(sampleRecords(), nil); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	wg.Wait()

	if got := store.Load().Generation; got != 20 {
		t.Fatalf("generation = %d, want 20", got)
	}
}
