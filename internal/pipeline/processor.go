package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ids-guard/internal/anomaly"
	"ids-guard/internal/blocklist"
	"ids-guard/internal/client"
	"ids-guard/internal/geo"
	"ids-guard/internal/ingest"
	"ids-guard/internal/model"
	"ids-guard/internal/records"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Collector produces one normalized batch per call.
type Collector interface {
	Collect(ctx context.Context) (*ingest.Batch, error)
}

// Cycle results reported in metrics and logs.
const (
	ResultOK    = "ok"
	ResultEmpty = "empty"
	ResultError = "error"
)

// CycleResult summarizes one detection cycle.
type CycleResult struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Empty      bool          `json:"empty"`
	Records    int           `json:"records"`
	Alerts     int           `json:"alerts"`
	Anomalous  int           `json:"anomalous"`
	Candidates []string      `json:"candidates"`
	Blocked    []string      `json:"blocked"`
	Unblocked  []string      `json:"unblocked"`
	Generation uint64        `json:"generation"`
}

type Options struct {
	Collector   Collector
	Processed   *ingest.ProcessedSet
	Geo         geo.Opener
	GeoProvider string
	Scorer      *anomaly.Scorer
	Records     *records.Store
	Blocklist   *blocklist.Store
	Metrics     *client.GuardMetrics
	Logger      *logrus.Logger
}

// Processor runs detection cycles: collect, enrich, score, publish, propose
// and reconcile.
type Processor struct {
	collector   Collector
	processed   *ingest.ProcessedSet
	geo         geo.Opener
	geoProvider string
	scorer      *anomaly.Scorer
	records     *records.Store
	blocklist   *blocklist.Store
	metrics     *client.GuardMetrics
	logger      *logrus.Logger
}

func NewProcessor(opts Options) (*Processor, error) {
	if opts.Collector == nil || opts.Scorer == nil || opts.Records == nil || opts.Blocklist == nil {
		return nil, fmt.Errorf("pipeline: collector, scorer, records and blocklist are required")
	}
	if opts.Geo == nil {
		opts.Geo = geo.NullOpener{}
		opts.GeoProvider = "none"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Processor{
		collector:   opts.Collector,
		processed:   opts.Processed,
		geo:         opts.Geo,
		geoProvider: opts.GeoProvider,
		scorer:      opts.Scorer,
		records:     opts.Records,
		blocklist:   opts.Blocklist,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}, nil
}

// RunCycle executes one detection cycle. An empty batch leaves the merged
// store and the proposed list untouched but still retries pending firewall
// actions. A reconciliation failure is returned together with the result.
func (p *Processor) RunCycle(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	log := p.logger.WithField("cycle_id", res.ID)

	outcome := ResultOK
	defer func() {
		res.Duration = time.Since(res.StartedAt)
		p.metrics.ObserveCycle(outcome, res.Duration)
	}()

	batch, err := p.collector.Collect(ctx)
	if batch != nil {
		p.metrics.AddParseErrors(batch.ParseErrors)
	}
	if errors.Is(err, ingest.ErrEmptyBatch) {
		outcome = ResultEmpty
		res.Empty = true
		log.Debug("[Pipeline] empty batch, nothing to score")
		if batch != nil {
			p.markProcessed(log, batch.CompletedSources)
		}
		if err := p.reconcile(ctx, res); err != nil {
			outcome = ResultError
			return res, err
		}
		return res, nil
	}
	if err != nil {
		outcome = ResultError
		return res, fmt.Errorf("collect: %w", err)
	}
	res.Records = len(batch.Records)
	res.Alerts = len(batch.Alerts)
	p.metrics.SetBatch(res.Records, res.Alerts)

	if err := p.enrich(batch); err != nil {
		outcome = ResultError
		return res, err
	}

	scored := p.scorer.Score(batch.Records)
	res.Anomalous = scored.Anomalous
	res.Candidates = scored.Candidates
	p.metrics.SetAnomalies(scored.Anomalous, len(scored.Candidates))

	snapshot, err := p.records.Publish(scored.Records, batch.Alerts)
	if err != nil {
		outcome = ResultError
		return res, fmt.Errorf("publish: %w", err)
	}
	res.Generation = snapshot.Generation

	p.markProcessed(log, batch.CompletedSources)

	if err := p.blocklist.ReplaceProposed(scored.Candidates, res.ID); err != nil {
		outcome = ResultError
		return res, fmt.Errorf("replace proposed: %w", err)
	}

	if err := p.reconcile(ctx, res); err != nil {
		outcome = ResultError
		return res, err
	}

	log.WithFields(logrus.Fields{
		"records":    res.Records,
		"alerts":     res.Alerts,
		"anomalous":  res.Anomalous,
		"candidates": len(res.Candidates),
		"generation": res.Generation,
	}).Info("[Pipeline] cycle complete")
	return res, nil
}

// enrich holds one resolver for the whole batch. Lookup misses become
// Unknown; only a resolver that cannot be opened fails the cycle.
func (p *Processor) enrich(batch *ingest.Batch) error {
	resolver, err := p.geo.Open()
	if err != nil {
		return fmt.Errorf("geo: %w", err)
	}
	defer resolver.Close()

	failures := geo.Enrich(resolver, batch.Records)
	failures += geo.EnrichAlerts(resolver, batch.Alerts)
	p.metrics.AddGeoFailures(p.geoProvider, failures)
	return nil
}

// markProcessed must only run once the batch is published.
func (p *Processor) markProcessed(log *logrus.Entry, ids []string) {
	if p.processed == nil || len(ids) == 0 {
		return
	}
	p.processed.Mark(ids...)
	if err := p.processed.Save(); err != nil {
		log.Errorf("[Pipeline] failed to save processed sources: %v", err)
	}
}

func (p *Processor) reconcile(ctx context.Context, res *CycleResult) error {
	rec, err := p.blocklist.Reconcile(ctx, model.SourceMonitor, res.ID)
	if rec != nil {
		res.Blocked = rec.Blocked
		res.Unblocked = rec.Unblocked
	}
	return err
}
