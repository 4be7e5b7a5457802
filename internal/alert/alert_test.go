package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ids-guard/internal/client"
	"ids-guard/internal/model"
	"ids-guard/internal/utils"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.BlockEvent
	err    error
}

func (r *recordingNotifier) SendEvent(event model.BlockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestDispatcherFansOutAndDrains(t *testing.T) {
	d := NewDispatcher(10, quietLogger())
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("boom")}
	d.RegisterNotifier(failing)
	d.RegisterNotifier(ok)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if err := d.SendEvent(model.BlockEvent{Type: model.EventBlocked, IP: ip}); err != nil {
			t.Fatalf("SendEvent: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if ok.count() != 3 {
		t.Fatalf("ok notifier got %d events, want 3", ok.count())
	}
	if failing.count() != 3 {
		t.Fatalf("failing notifier got %d events, want 3", failing.count())
	}
	if ok.events[0].IP != "10.0.0.1" || ok.events[2].IP != "10.0.0.3" {
		t.Errorf("events out of order: %+v", ok.events)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, quietLogger())
	n := &recordingNotifier{}
	d.RegisterNotifier(n)

	_ = d.SendEvent(model.BlockEvent{IP: "10.0.0.1"})
	_ = d.SendEvent(model.BlockEvent{IP: "10.0.0.2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	if n.count() != 1 {
		t.Fatalf("delivered %d events, want 1", n.count())
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func telegramResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestTelegramSendEvent(t *testing.T) {
	var got []TelegramMessage
	var paths []string
	tn := NewTelegramNotifier(utils.TelegramYAMLConfig{
		BotToken:  "TOKEN",
		ChatID:    "42",
		ParseMode: "Markdown",
		Enabled:   true,
	}, quietLogger())
	tn.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		var msg TelegramMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, msg)
		return telegramResponse(`{"ok":true}`), nil
	})}

	event := model.BlockEvent{
		Type:      model.EventBlocked,
		IP:        "203.0.113.9",
		Source:    model.SourceMonitor,
		CycleID:   "c-1",
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := tn.SendEvent(event); err != nil {
		t.Fatalf("SendEvent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if paths[0] != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", paths[0])
	}
	if got[0].ChatID != "42" || got[0].ParseMode != "" {
		t.Errorf("message = %+v", got[0])
	}
	for _, want := range []string{"IP BLOCKED", "203.0.113.9", "2025-06-01 10:00:00", "cycle: c-1"} {
		if !strings.Contains(got[0].Text, want) {
			t.Errorf("text %q missing %q", got[0].Text, want)
		}
	}

	if err := tn.SendEvent(model.BlockEvent{Type: model.EventProposed, IP: "203.0.113.9"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("proposed event was sent")
	}
}

func TestTelegramRetriesThenFails(t *testing.T) {
	calls := 0
	tn := NewTelegramNotifier(utils.TelegramYAMLConfig{BotToken: "T", ChatID: "1", Enabled: true}, quietLogger())
	tn.retryDelay = time.Millisecond
	tn.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return telegramResponse(`{"ok":false,"description":"chat not found"}`), nil
	})}

	err := tn.SendEvent(model.BlockEvent{Type: model.EventUnblocked, IP: "10.0.0.1"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v, want chat not found", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTelegramTemplateAndDisabled(t *testing.T) {
	var text string
	tn := NewTelegramNotifier(utils.TelegramYAMLConfig{
		Enabled:         true,
		MessageTemplate: "{{.Type}} {{.IP}} at {{formatTime .Timestamp \"15:04\"}}",
	}, quietLogger())
	tn.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		var msg TelegramMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		text = msg.Text
		return telegramResponse(`{"ok":true}`), nil
	})}
	ts := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	if err := tn.SendEvent(model.BlockEvent{Type: model.EventBlocked, IP: "10.0.0.7", Timestamp: ts}); err != nil {
		t.Fatal(err)
	}
	if text != "blocked 10.0.0.7 at 09:30" {
		t.Fatalf("text = %q", text)
	}

	off := NewTelegramNotifier(utils.TelegramYAMLConfig{}, quietLogger())
	off.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Error("disabled notifier sent a request")
		return telegramResponse(`{"ok":true}`), nil
	})}
	if err := off.SendEvent(model.BlockEvent{Type: model.EventBlocked}); err != nil {
		t.Fatal(err)
	}
}

func TestRedisNotifierRejectsBadURL(t *testing.T) {
	if _, err := NewRedisNotifier(context.Background(), "ftp://localhost", "ch", quietLogger()); err == nil {
		t.Fatal("expected error for non-redis url")
	}
}

func TestPrometheusExporterServesRegistry(t *testing.T) {
	registry := CreateCustomRegistry()
	metrics := client.NewGuardMetrics(registry)
	metrics.ObserveCycle("ok", 50*time.Millisecond)
	metrics.SetBlockedIPs(3)

	exporter := NewPrometheusExporter("0", registry, quietLogger())
	srv := httptest.NewServer(exporter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		`ids_guard_cycles_total{result="ok"} 1`,
		"ids_guard_blocked_ips 3",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
