package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"ids-guard/api/internal/storage"
	"ids-guard/internal/audit"
	"ids-guard/internal/blocklist"
	"ids-guard/internal/model"
	"ids-guard/internal/monitor"
	"ids-guard/internal/records"
	"ids-guard/internal/report"
	"ids-guard/internal/risk"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Deps struct {
	Blocklist *blocklist.Store
	Records   *records.Store
	Audit     *audit.Log
	Monitor   *monitor.Monitor
	Store     *storage.Storage
	Limiter   *RateLimiter
	// MonitorContext bounds loops started through the API.
	MonitorContext context.Context
	AllowedOrigins []string
	Logger         *logrus.Logger
}

type Handlers struct {
	blocklist  *blocklist.Store
	records    *records.Store
	audit      *audit.Log
	monitor    *monitor.Monitor
	store      *storage.Storage
	limiter    *RateLimiter
	monitorCtx context.Context
	logger     *logrus.Logger
	upgrader   websocket.Upgrader
	now        func() time.Time
}

type ipRequest struct {
	IP string `json:"ip"`
}

func NewHandlers(d Deps) *Handlers {
	if d.Limiter == nil {
		d.Limiter = NewRateLimiter(2, 5)
	}
	if d.MonitorContext == nil {
		d.MonitorContext = context.Background()
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	allowed := make(map[string]bool, len(d.AllowedOrigins))
	for _, o := range d.AllowedOrigins {
		allowed[o] = true
	}
	logger := d.Logger

	return &Handlers{
		blocklist:  d.Blocklist,
		records:    d.Records,
		audit:      d.Audit,
		monitor:    d.Monitor,
		store:      d.Store,
		limiter:    d.Limiter,
		monitorCtx: d.MonitorContext,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] || allowed["*"] {
					return true
				}
				logger.Debugf("[API] websocket origin rejected: %s", origin)
				return false
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
	}
}

// NewRouter registers every route; CORS wraps the router so preflight
// requests are answered for any path.
func NewRouter(h *Handlers, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()

	// Monitor
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/monitor/start", h.StartMonitor).Methods("POST")
	api.HandleFunc("/monitor/stop", h.StopMonitor).Methods("POST")
	api.HandleFunc("/stream/status", h.StreamStatus).Methods("GET")

	// Blocklist
	api.HandleFunc("/blocked", h.GetBlocked).Methods("GET")
	api.HandleFunc("/block", h.limiter.Limit(h.BlockIP)).Methods("POST")
	api.HandleFunc("/unblock", h.limiter.Limit(h.UnblockIP)).Methods("POST")
	api.HandleFunc("/events", h.GetEvents).Methods("GET")
	api.HandleFunc("/audit", h.GetAudit).Methods("GET")

	// Risk
	api.HandleFunc("/risk/top", h.GetTopRisks).Methods("GET")
	api.HandleFunc("/risk/statistics", h.GetRiskStatistics).Methods("GET")
	api.HandleFunc("/risk/analyze/{ip}", h.AnalyzeIP).Methods("GET")

	// Query layer
	api.HandleFunc("/trends", h.GetTrends).Methods("GET")
	api.HandleFunc("/statistics", h.GetStatistics).Methods("GET")
	api.HandleFunc("/dashboard", h.GetDashboard).Methods("GET")
	api.HandleFunc("/report", h.GetReport).Methods("GET")
	api.HandleFunc("/ip/{ip}", h.SearchIP).Methods("GET")
	api.HandleFunc("/alerts/rate", h.GetAlertRate).Methods("GET")
	api.HandleFunc("/alerts", h.GetAlerts).Methods("GET")
	api.HandleFunc("/records", h.GetRecords).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	return CORSMiddleware(allowedOrigins)(router)
}

// Monitor handlers
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func (h *Handlers) StartMonitor(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.Start(h.monitorCtx) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Monitoring already running"})
		return
	}
	h.logger.Info("[API] monitoring started")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Monitoring started"})
}

func (h *Handlers) StopMonitor(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.Stop() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Monitoring was not running"})
		return
	}
	h.logger.Info("[API] monitoring stopped")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Monitoring stopped"})
}

func (h *Handlers) StreamStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("[API] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := h.store.Subscribe(32)
	defer h.store.Unsubscribe(sub)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "connected", "message": "WebSocket connection established"}); err != nil {
		h.logger.Debugf("[API] failed to send initial message: %v", err)
		return
	}
	status := h.monitor.Status()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(storage.Message{Type: storage.MessageStatus, Status: &status}); err != nil {
		return
	}

	done := make(chan struct{})
	once := &sync.Once{}
	closeDone := func() {
		once.Do(func() {
			close(done)
		})
	}

	// reads only to notice the client going away
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debugf("[API] websocket write error: %v", err)
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

// Blocklist handlers
func (h *Handlers) GetBlocked(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page or per_page value")
		return
	}
	perPage, err := intParam(r, "per_page", 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page or per_page value")
		return
	}

	result, err := h.blocklist.List(page, perPage)
	if err != nil {
		writeBlocklistError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) BlockIP(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}
	if err := h.blocklist.Add(r.Context(), req.IP, model.SourceAPI); err != nil {
		h.logger.Warnf("[API] block %s failed: %v", req.IP, err)
		writeBlocklistError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "IP " + req.IP + " blocked successfully",
	})
}

func (h *Handlers) UnblockIP(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIPRequest(w, r)
	if !ok {
		return
	}
	if err := h.blocklist.Remove(r.Context(), req.IP, model.SourceAPI); err != nil {
		h.logger.Warnf("[API] unblock %s failed: %v", req.IP, err)
		writeBlocklistError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "IP " + req.IP + " unblocked successfully",
	})
}

func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampedLimit(r, 100, 1000)
	events := h.store.GetEvents(limit, r.URL.Query().Get("type"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log is disabled")
		return
	}
	actions, err := h.audit.Recent(r.Context(), clampedLimit(r, 100, 1000))
	if err != nil {
		h.logger.Errorf("[API] audit query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"total":   len(actions),
	})
}

// Risk handlers
func (h *Handlers) GetTopRisks(w http.ResponseWriter, r *http.Request) {
	alerts := h.records.Load().Alerts
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"top_risks": risk.TopRisks(alerts, clampedLimit(r, 10, 100)),
	})
}

func (h *Handlers) GetRiskStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, risk.Statistics(h.records.Load().Alerts))
}

func (h *Handlers) AnalyzeIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	if err := blocklist.ValidateIP(ip); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid IP address format")
		return
	}
	analysis, err := risk.Analyze(h.records.Load().Alerts, ip)
	if errors.Is(err, risk.ErrNoAlerts) {
		writeError(w, http.StatusNotFound, "No alerts found for IP "+ip)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// Query handlers
func (h *Handlers) GetTrends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.BuildTrends(h.records.Load().Alerts, h.now()))
}

func (h *Handlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	snap := h.records.Load()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statistics": report.Statistics(snap.Records, snap.Alerts),
	})
}

func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	snap := h.records.Load()
	writeJSON(w, http.StatusOK, report.Dashboard(snap.Records, snap.Alerts, h.blocklist.Count()))
}

func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	window, err := report.ParseWindow(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid report type")
		return
	}
	rep, err := report.Generate(window, h.records.Load().Alerts, h.blocklist.Count(), h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handlers) SearchIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	snap := h.records.Load()
	result, err := report.SearchIP(snap.Records, snap.Alerts, ip)
	if errors.Is(err, report.ErrIPNotFound) {
		writeError(w, http.StatusNotFound, "IP not found in logs")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetAlertRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{
		"alerts_per_minute": report.AlertsPerMinute(h.records.Load().Alerts, h.now()),
	})
}

func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	all := h.records.Load().Alerts
	alerts := all
	if limit := clampedLimit(r, 100, 1000); len(alerts) > limit {
		alerts = alerts[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  len(all),
	})
}

func (h *Handlers) GetRecords(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit := clampedLimit(r, 25, 100)

	snap := h.records.Load()
	total := len(snap.Records)
	start := (page - 1) * limit
	items := []model.NormalizedRecord{}
	if start < total {
		end := start + limit
		if end > total {
			end = total
		}
		items = snap.Records[start:end]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":      items,
		"total":      total,
		"page":       page,
		"limit":      limit,
		"generation": snap.Generation,
	})
}

func decodeIPRequest(w http.ResponseWriter, r *http.Request) (ipRequest, bool) {
	var req ipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	return req, true
}

// intParam returns def when the parameter is absent and an error when it is
// not an integer.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func clampedLimit(r *http.Request, def, max int) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func writeBlocklistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, blocklist.ErrInvalidInput), errors.Is(err, blocklist.ErrAlreadyBlocked):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blocklist.ErrNotBlocked):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, blocklist.ErrReconciliationFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
