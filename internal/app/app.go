package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ids-guard/internal/alert"
	"ids-guard/internal/anomaly"
	"ids-guard/internal/audit"
	"ids-guard/internal/blocklist"
	"ids-guard/internal/client"
	"ids-guard/internal/firewall"
	"ids-guard/internal/geo"
	"ids-guard/internal/ingest"
	"ids-guard/internal/model"
	"ids-guard/internal/monitor"
	"ids-guard/internal/pipeline"
	"ids-guard/internal/records"
	"ids-guard/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App holds every long-lived component built from one configuration.
type App struct {
	Config     *utils.GuardConfig
	Logger     *logrus.Logger
	Registry   *prometheus.Registry
	Metrics    *client.GuardMetrics
	Dispatcher *alert.Dispatcher
	Audit      *audit.Log
	Firewall   firewall.Firewall
	Records    *records.Store
	Blocklist  *blocklist.Store
	Whitelist  *anomaly.Whitelist
	Processor  *pipeline.Processor
	Monitor    *monitor.Monitor

	closers []io.Closer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires the components. Optional integrations (audit database, Redis,
// Hubble) that fail to initialize are logged and left out.
func New(ctx context.Context, cfg *utils.GuardConfig, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: alert.CreateCustomRegistry(),
	}
	a.Metrics = client.NewGuardMetrics(a.Registry)
	a.Dispatcher = a.buildDispatcher(ctx)

	var err error
	if a.Firewall, err = firewall.New(cfg.Firewall, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("firewall: %w", err)
	}

	var auditor blocklist.Auditor
	if cfg.Audit.Enabled {
		a.Audit, err = audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			logger.Warnf("[App] audit log disabled: %v", err)
		} else {
			a.closers = append(a.closers, a.Audit)
			auditor = a.Audit
		}
	}

	if a.Records, err = records.NewStore(cfg.DataPath(cfg.Storage.MergedFile), logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("records: %w", err)
	}

	a.Blocklist, err = blocklist.Open(blocklist.Options{
		HumanPath:    cfg.DataPath(cfg.Storage.BlocklistFile),
		ProposedPath: cfg.DataPath(cfg.Storage.ProposedFile),
		Firewall:     a.Firewall,
		Events:       a.Dispatcher,
		Auditor:      auditor,
		Metrics:      a.Metrics,
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("blocklist: %w", err)
	}

	whitelistFile := ""
	if cfg.Detection.WhitelistFile != "" {
		whitelistFile = cfg.DataPath(cfg.Detection.WhitelistFile)
	}
	if a.Whitelist, err = anomaly.NewWhitelist(cfg.Detection.Whitelist, whitelistFile, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("whitelist: %w", err)
	}

	processed, err := ingest.LoadProcessedSet(cfg.DataPath(cfg.Storage.ProcessedFile))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("processed sources: %w", err)
	}

	forest := anomaly.NewIsolationForest(cfg.Detection.Contamination, cfg.Detection.Seed)
	forest.Trees = cfg.Detection.Trees
	forest.SampleSize = cfg.Detection.SampleSize

	a.Processor, err = pipeline.NewProcessor(pipeline.Options{
		Collector:   a.buildNormalizer(processed),
		Processed:   processed,
		Geo:         geoOpener(cfg.Geo),
		GeoProvider: cfg.Geo.Provider,
		Scorer:      anomaly.NewScorer(forest, a.Whitelist, logger),
		Records:     a.Records,
		Blocklist:   a.Blocklist,
		Metrics:     a.Metrics,
		Logger:      logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Monitor = monitor.New(monitor.Options{
		Cycler:      a.Processor,
		Probe:       monitor.NewProcProbe(cfg.IDS.ProcRoot, cfg.IDS.ProcessName),
		Records:     a.Records,
		Blocklist:   a.Blocklist,
		Interval:    time.Duration(cfg.Detection.Interval),
		ProcessName: cfg.IDS.ProcessName,
		Metrics:     a.Metrics,
		Logger:      logger,
	})

	return a, nil
}

func (a *App) buildDispatcher(ctx context.Context) *alert.Dispatcher {
	d := alert.NewDispatcher(100, a.Logger)
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return d
	}
	if cfg.Channels.Log {
		d.RegisterNotifier(alert.NewLogNotifier(a.Logger))
	}
	if cfg.Channels.Telegram {
		d.RegisterNotifier(alert.NewTelegramNotifier(cfg.Telegram, a.Logger))
	}
	if cfg.Channels.Redis {
		rn, err := alert.NewRedisNotifier(ctx, cfg.Redis.URL, cfg.Redis.Channel, a.Logger)
		if err != nil {
			a.Logger.Warnf("[App] redis notifier disabled: %v", err)
		} else {
			a.closers = append(a.closers, rn)
			d.RegisterNotifier(rn)
		}
	}
	return d
}

func (a *App) buildNormalizer(processed *ingest.ProcessedSet) *ingest.Normalizer {
	cfg := a.Config.Sources
	n := ingest.NewNormalizer(ingest.NewEveReader(cfg.EvePath), processed, cfg.MaxRecordsPerSource, a.Logger)
	if cfg.CaptureDir != "" {
		n.AddCaptureLister(ingest.NewCSVCaptureDir(cfg.CaptureDir, cfg.CaptureGlob))
	}
	if cfg.Hubble.Enabled {
		hc, err := client.NewHubbleGRPCClient(cfg.Hubble.Server, a.Logger)
		if err != nil {
			a.Logger.Warnf("[App] hubble source disabled: %v", err)
		} else {
			a.closers = append(a.closers, hc)
			n.AddCaptureLister(client.NewHubbleWindowLister(hc, hc.Server(), time.Duration(cfg.Hubble.Window), cfg.Hubble.MaxWindows))
		}
	}
	return n
}

func geoOpener(cfg utils.GeoYAMLConfig) geo.Opener {
	switch cfg.Provider {
	case "maxmind":
		return geo.MaxMindOpener{Path: cfg.DatabasePath}
	case "static":
		return geo.StaticOpener{Countries: cfg.Static}
	default:
		return geo.NullOpener{}
	}
}

// ReadAlerts parses the IDS stream without running a cycle. Alerts are
// enriched with countries when the geo database opens; otherwise they are
// returned as read.
func (a *App) ReadAlerts() ([]model.AlertRecord, error) {
	eve, err := ingest.NewEveReader(a.Config.Sources.EvePath).Read()
	if err != nil {
		return nil, err
	}
	resolver, err := geoOpener(a.Config.Geo).Open()
	if err != nil {
		a.Logger.Warnf("[App] alerts not enriched: %v", err)
		return eve.Alerts, nil
	}
	defer resolver.Close()
	if failures := geo.EnrichAlerts(resolver, eve.Alerts); failures > 0 {
		a.Logger.Debugf("[App] %d geo lookups failed", failures)
	}
	return eve.Alerts, nil
}

// Start runs the event dispatcher and the whitelist watcher until Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Dispatcher.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.Whitelist.Watch(ctx); err != nil {
			a.Logger.Warnf("[App] whitelist watcher stopped: %v", err)
		}
	}()
}

// Close stops the monitor, flushes queued events and releases connections.
func (a *App) Close() error {
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
