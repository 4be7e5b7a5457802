package monitor

import (
	"context"
	"sync"
	"time"

	"ids-guard/internal/client"
	"ids-guard/internal/model"
	"ids-guard/internal/pipeline"
	"ids-guard/internal/records"

	"github.com/sirupsen/logrus"
)

const DefaultInterval = 10 * time.Second

type Cycler interface {
	RunCycle(ctx context.Context) (*pipeline.CycleResult, error)
}

// Probe reports whether the IDS process is alive.
type Probe interface {
	Running() bool
}

type SnapshotSource interface {
	Load() *records.Snapshot
}

type BlockCounter interface {
	Count() int
}

// StatusSink is notified after every tick.
type StatusSink interface {
	PublishStatus(status model.MonitorStatus)
}

type Options struct {
	Cycler      Cycler
	Probe       Probe
	Records     SnapshotSource
	Blocklist   BlockCounter
	Interval    time.Duration
	ProcessName string
	Metrics     *client.GuardMetrics
	Logger      *logrus.Logger
}

// Monitor runs a detection cycle on every tick and owns MonitorStatus.
type Monitor struct {
	cycler      Cycler
	probe       Probe
	records     SnapshotSource
	blocklist   BlockCounter
	interval    time.Duration
	processName string
	metrics     *client.GuardMetrics
	logger      *logrus.Logger

	tickMu sync.Mutex

	mu       sync.RWMutex
	status   model.MonitorStatus
	sinks    []StatusSink
	stopChan chan struct{}
	done     chan struct{}
}

func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Monitor{
		cycler:      opts.Cycler,
		probe:       opts.Probe,
		records:     opts.Records,
		blocklist:   opts.Blocklist,
		interval:    opts.Interval,
		processName: opts.ProcessName,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

func (m *Monitor) AddSink(sink StatusSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Start launches the loop. It returns false if the loop was already running.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.stopChan != nil {
		m.mu.Unlock()
		return false
	}
	stopChan := make(chan struct{})
	done := make(chan struct{})
	m.stopChan = stopChan
	m.done = done
	m.status.Monitoring = true
	m.mu.Unlock()

	go m.run(ctx, stopChan, done)
	return true
}

// Stop ends the loop and waits for the tick in progress. It returns false
// if the loop was not running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	if m.stopChan == nil {
		m.mu.Unlock()
		return false
	}
	close(m.stopChan)
	done := m.done
	m.stopChan = nil
	m.done = nil
	m.status.Monitoring = false
	m.mu.Unlock()

	<-done
	return true
}

func (m *Monitor) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopChan != nil
}

func (m *Monitor) run(ctx context.Context, stopChan, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.stopChan == stopChan {
			m.stopChan = nil
			m.done = nil
			m.status.Monitoring = false
		}
		status := m.status
		m.mu.Unlock()
		m.publish(status)
		close(done)
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Infof("[Monitor] started (interval: %v)", m.interval)

	m.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			m.Tick(ctx)
		case <-ctx.Done():
			m.logger.Info("[Monitor] stopping, context done")
			return
		case <-stopChan:
			m.logger.Info("[Monitor] stopped")
			return
		}
	}
}

// Tick refreshes the status, runs one cycle and refreshes the status again.
// Cycle errors are recorded in the status and never end the loop.
func (m *Monitor) Tick(ctx context.Context) (*pipeline.CycleResult, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.refresh()

	res, err := m.cycler.RunCycle(ctx)

	m.mu.Lock()
	m.status.Cycles++
	m.status.LastCycleAt = time.Now()
	m.status.LastCycleError = ""
	if res != nil {
		m.status.LastCycleID = res.ID
	}
	if err != nil {
		m.status.LastCycleError = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		entry := m.logger.WithField("component", "monitor")
		if res != nil {
			entry = entry.WithField("cycle_id", res.ID)
		}
		entry.Errorf("[Monitor] cycle failed: %v", err)
	}

	status := m.refresh()
	m.publish(status)
	return res, err
}

func (m *Monitor) refresh() model.MonitorStatus {
	running := false
	if m.probe != nil {
		running = m.probe.Running()
	}
	m.metrics.SetIDSRunning(m.processName, running)

	alerts := 0
	if m.records != nil {
		alerts = len(m.records.Load().Alerts)
	}
	blocked := 0
	if m.blocklist != nil {
		blocked = m.blocklist.Count()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Running = running
	m.status.AlertsInBuffer = alerts
	m.status.BlockedIPs = blocked
	return m.status
}

func (m *Monitor) Status() model.MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) publish(status model.MonitorStatus) {
	m.mu.RLock()
	sinks := make([]StatusSink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.RUnlock()

	for _, sink := range sinks {
		sink.PublishStatus(status)
	}
}
