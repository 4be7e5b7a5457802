package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ids-guard/api/internal/storage"
	"ids-guard/internal/blocklist"
	"ids-guard/internal/firewall"
	"ids-guard/internal/model"
	"ids-guard/internal/monitor"
	"ids-guard/internal/pipeline"
	"ids-guard/internal/records"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type idleCycler struct{}

func (idleCycler) RunCycle(ctx context.Context) (*pipeline.CycleResult, error) {
	return &pipeline.CycleResult{ID: "cycle-1", Empty: true}, nil
}

type brokenFirewall struct{}

func (brokenFirewall) Name() string { return "broken" }

func (brokenFirewall) Block(ctx context.Context, ip string) error {
	return &firewall.Error{Action: firewall.ActionBlock, IP: ip, Err: errors.New("exit status 1")}
}

func (brokenFirewall) Unblock(ctx context.Context, ip string) error {
	return &firewall.Error{Action: firewall.ActionUnblock, IP: ip, Err: errors.New("exit status 1")}
}

type testServer struct {
	handler   http.Handler
	blocklist *blocklist.Store
	records   *records.Store
	monitor   *monitor.Monitor
	store     *storage.Storage
}

func newTestServer(t *testing.T, fw firewall.Firewall) *testServer {
	t.Helper()
	dir := t.TempDir()
	logger := quietLogger()

	if fw == nil {
		fw = firewall.NewNoopFirewall(logger)
	}
	bl, err := blocklist.Open(blocklist.Options{
		HumanPath:    filepath.Join(dir, "blocked_ips.txt"),
		ProposedPath: filepath.Join(dir, "proposed_ips.txt"),
		Firewall:     fw,
		Logger:       logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	rs, err := records.NewStore(filepath.Join(dir, "merged.csv"), logger)
	if err != nil {
		t.Fatal(err)
	}
	st := storage.NewStorage(logger)
	mon := monitor.New(monitor.Options{
		Cycler:    idleCycler{},
		Records:   rs,
		Blocklist: bl,
		Interval:  time.Hour,
		Logger:    logger,
	})
	mon.AddSink(st)
	t.Cleanup(func() { mon.Stop() })

	h := NewHandlers(Deps{
		Blocklist: bl,
		Records:   rs,
		Monitor:   mon,
		Store:     st,
		Limiter:   NewRateLimiter(1000, 1000),
		Logger:    logger,
	})
	return &testServer{
		handler:   NewRouter(h, []string{"http://localhost:3000"}),
		blocklist: bl,
		records:   rs,
		monitor:   mon,
		store:     st,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestBlockAndUnblock(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"block", "/api/v1/block", `{"ip":"192.0.2.10"}`, http.StatusOK},
		{"block again", "/api/v1/block", `{"ip":"192.0.2.10"}`, http.StatusBadRequest},
		{"invalid ip", "/api/v1/block", `{"ip":"999.1.1.1"}`, http.StatusBadRequest},
		{"bad body", "/api/v1/block", `{`, http.StatusBadRequest},
		{"unblock", "/api/v1/unblock", `{"ip":"192.0.2.10"}`, http.StatusOK},
		{"unblock missing", "/api/v1/unblock", `{"ip":"192.0.2.10"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	if s.blocklist.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", s.blocklist.Count())
	}
}

func TestBlockResponseMessage(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/block", `{"ip":"192.0.2.10"}`)

	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "success" || body["message"] != "IP 192.0.2.10 blocked successfully" {
		t.Fatalf("body = %v", body)
	}
}

func TestBlockFirewallFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, brokenFirewall{})

	rec := s.do(t, http.MethodPost, "/api/v1/block", `{"ip":"192.0.2.10"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !s.blocklist.Contains("192.0.2.10") {
		t.Fatal("entry should stay in the blocklist after a firewall failure")
	}
}

func TestGetBlockedPagination(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	for _, ip := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3", "192.0.2.4", "192.0.2.5", "192.0.2.6", "192.0.2.7"} {
		if err := s.blocklist.Add(ctx, ip, model.SourceCLI); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		query   string
		status  int
		wantIPs int
	}{
		{"defaults", "", http.StatusOK, 5},
		{"second page", "?page=2", http.StatusOK, 2},
		{"past end", "?page=9&per_page=5", http.StatusOK, 0},
		{"zero page", "?page=0", http.StatusBadRequest, 0},
		{"not a number", "?per_page=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/v1/blocked"+tt.query, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var page blocklist.Page
			decode(t, rec, &page)
			if len(page.IPs) != tt.wantIPs || page.Total != 7 {
				t.Fatalf("page = %+v, want %d ips of 7", page, tt.wantIPs)
			}
		})
	}
}

func TestRateLimitedBlock(t *testing.T) {
	s := newTestServer(t, nil)
	h := NewHandlers(Deps{
		Blocklist: s.blocklist,
		Records:   s.records,
		Monitor:   s.monitor,
		Store:     s.store,
		Limiter:   NewRateLimiter(0.001, 1),
		Logger:    quietLogger(),
	})
	router := NewRouter(h, nil)

	codes := make([]int, 0, 2)
	for _, ip := range []string{"192.0.2.1", "192.0.2.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/block", strings.NewReader(`{"ip":"`+ip+`"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 429]", codes)
	}
}

func publishAlerts(t *testing.T, rs *records.Store) {
	t.Helper()
	now := time.Now().UTC()
	alerts := []model.AlertRecord{
		{SrcIP: "203.0.113.7", DestIP: "10.0.0.5", DestPort: 22, Proto: "TCP", AttackType: "Attempted Information Leak", Category: "Attempted Information Leak", Severity: 1, Timestamp: now.Add(-time.Minute).Format(time.RFC3339), Country: "Vietnam"},
		{SrcIP: "203.0.113.7", DestIP: "10.0.0.5", DestPort: 80, Proto: "TCP", AttackType: "Web Application Attack", Category: "Web Application Attack", Severity: 2, Timestamp: now.Add(-2 * time.Minute).Format(time.RFC3339), Country: "Vietnam"},
		{SrcIP: "198.51.100.4", DestIP: "10.0.0.6", DestPort: 53, Proto: "UDP", AttackType: "Misc", Category: "Misc", Severity: 3, Timestamp: now.Add(-3 * time.Minute).Format(time.RFC3339)},
	}
	recs := []model.NormalizedRecord{
		{SrcIP: "203.0.113.7", DestIP: "10.0.0.5", DestPort: 22, Proto: "TCP", AttackType: "NA", Timestamp: now.Format(time.RFC3339)},
	}
	if _, err := rs.Publish(recs, alerts); err != nil {
		t.Fatal(err)
	}
}

func TestRiskEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	publishAlerts(t, s.records)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"top", "/api/v1/risk/top?limit=2", http.StatusOK},
		{"statistics", "/api/v1/risk/statistics", http.StatusOK},
		{"analyze", "/api/v1/risk/analyze/203.0.113.7", http.StatusOK},
		{"analyze unknown", "/api/v1/risk/analyze/192.0.2.99", http.StatusNotFound},
		{"analyze invalid", "/api/v1/risk/analyze/not-an-ip", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	rec := s.do(t, http.MethodGet, "/api/v1/risk/top?limit=2", "")
	var top struct {
		TopRisks []model.RiskProfile `json:"top_risks"`
	}
	decode(t, rec, &top)
	if len(top.TopRisks) != 2 {
		t.Fatalf("len(top_risks) = %d, want 2", len(top.TopRisks))
	}
}

func TestQueryEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	publishAlerts(t, s.records)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"trends", "/api/v1/trends", http.StatusOK},
		{"statistics", "/api/v1/statistics", http.StatusOK},
		{"dashboard", "/api/v1/dashboard", http.StatusOK},
		{"daily report", "/api/v1/report?type=daily", http.StatusOK},
		{"bad report", "/api/v1/report?type=hourly", http.StatusBadRequest},
		{"ip search", "/api/v1/ip/203.0.113.7", http.StatusOK},
		{"ip search miss", "/api/v1/ip/192.0.2.99", http.StatusNotFound},
		{"alert rate", "/api/v1/alerts/rate", http.StatusOK},
		{"alerts", "/api/v1/alerts?limit=1", http.StatusOK},
		{"records", "/api/v1/records", http.StatusOK},
		{"events", "/api/v1/events", http.StatusOK},
		{"audit disabled", "/api/v1/audit", http.StatusServiceUnavailable},
		{"health", "/health", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestAlertsLimitAndTotal(t *testing.T) {
	s := newTestServer(t, nil)
	publishAlerts(t, s.records)

	rec := s.do(t, http.MethodGet, "/api/v1/alerts?limit=1", "")
	var body struct {
		Alerts []model.AlertRecord `json:"alerts"`
		Total  int                 `json:"total"`
	}
	decode(t, rec, &body)
	if len(body.Alerts) != 1 || body.Total != 3 {
		t.Fatalf("alerts = %d total = %d, want 1 and 3", len(body.Alerts), body.Total)
	}
}

func TestReportCountsHighSeverity(t *testing.T) {
	s := newTestServer(t, nil)
	publishAlerts(t, s.records)

	rec := s.do(t, http.MethodGet, "/api/v1/report?type=daily", "")
	var body struct {
		TotalAlerts  int `json:"total_alerts"`
		HighSeverity int `json:"high_severity"`
	}
	decode(t, rec, &body)
	if body.TotalAlerts != 3 || body.HighSeverity != 2 {
		t.Fatalf("report = %+v, want 3 total and 2 high", body)
	}
}

func TestMonitorStartStop(t *testing.T) {
	s := newTestServer(t, nil)

	steps := []struct {
		path    string
		message string
	}{
		{"/api/v1/monitor/start", "Monitoring started"},
		{"/api/v1/monitor/start", "Monitoring already running"},
		{"/api/v1/monitor/stop", "Monitoring stopped"},
		{"/api/v1/monitor/stop", "Monitoring was not running"},
	}
	for _, step := range steps {
		rec := s.do(t, http.MethodPost, step.path, "")
		var body map[string]string
		decode(t, rec, &body)
		if body["message"] != step.message {
			t.Fatalf("%s: message = %q, want %q", step.path, body["message"], step.message)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/v1/status", "")
	var status model.MonitorStatus
	decode(t, rec, &status)
	if status.Monitoring {
		t.Fatal("status reports monitoring after stop")
	}
	if status.Cycles < 1 {
		t.Fatalf("cycles = %d, want at least 1", status.Cycles)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/block", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin = %q for a foreign origin", got)
	}
}

func TestStreamStatus(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]string
	if err := conn.ReadJSON(&hello); err != nil || hello["type"] != "connected" {
		t.Fatalf("hello = %v, err = %v", hello, err)
	}
	var first storage.Message
	if err := conn.ReadJSON(&first); err != nil || first.Type != storage.MessageStatus {
		t.Fatalf("first = %+v, err = %v", first, err)
	}

	// the subscription exists before the initial status is written
	s.store.SendEvent(model.BlockEvent{Type: model.EventBlocked, IP: "192.0.2.10", Source: model.SourceAPI})

	var next storage.Message
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if next.Type != storage.MessageEvent || next.Event == nil || next.Event.IP != "192.0.2.10" {
		t.Fatalf("next = %+v", next)
	}
}
