package ingest

import (
	"context"
	"errors"

	"ids-guard/internal/model"

	"github.com/sirupsen/logrus"
)

// Batch is the output of one normalization pass.
type Batch struct {
	Records []model.NormalizedRecord
	Alerts  []model.AlertRecord
	// CompletedSources lists capture sources fully read this pass; they should
	// be marked processed once the cycle commits.
	CompletedSources []string
	ParseErrors      map[string]int
	Duplicates       int
}

type Normalizer struct {
	eve          *EveReader
	listers      []CaptureLister
	processed    *ProcessedSet
	maxPerSource int
	logger       *logrus.Logger
}

func NewNormalizer(eve *EveReader, processed *ProcessedSet, maxPerSource int, logger *logrus.Logger) *Normalizer {
	if maxPerSource <= 0 {
		maxPerSource = 1000
	}
	return &Normalizer{
		eve:          eve,
		processed:    processed,
		maxPerSource: maxPerSource,
		logger:       logger,
	}
}

// AddCaptureLister registers another family of capture sources.
func (n *Normalizer) AddCaptureLister(lister CaptureLister) {
	n.listers = append(n.listers, lister)
}

// Collect reads the IDS stream and every unprocessed capture source, then
// deduplicates. It returns ErrEmptyBatch, together with the batch, when no
// record survived.
func (n *Normalizer) Collect(ctx context.Context) (*Batch, error) {
	batch := &Batch{ParseErrors: make(map[string]int)}

	var records []model.NormalizedRecord
	if n.eve != nil {
		eve, err := n.eve.Read()
		if err != nil {
			n.logSourceError("eve", n.eve.Path(), err)
		}
		if eve != nil {
			records = append(records, eve.Records...)
			batch.Alerts = eve.Alerts
			if eve.ParseErrors > 0 {
				batch.ParseErrors["eve"] = eve.ParseErrors
				n.logger.Debugf("[Normalizer] skipped %d malformed eve lines", eve.ParseErrors)
			}
		}
	}

	for _, lister := range n.listers {
		sources, err := lister.Sources(ctx)
		if err != nil {
			n.logger.Warnf("[Normalizer] failed to list capture sources: %v", err)
			continue
		}
		for _, src := range sources {
			if n.processed != nil && n.processed.Has(src.ID()) {
				continue
			}
			captured, err := src.Records(ctx, n.maxPerSource)
			if err != nil {
				n.logSourceError("capture", src.ID(), err)
				continue
			}
			records = append(records, captured...)
			batch.CompletedSources = append(batch.CompletedSources, src.ID())
		}
	}

	batch.Records = Dedup(records)
	batch.Duplicates = len(records) - len(batch.Records)

	if len(batch.Records) == 0 {
		return batch, ErrEmptyBatch
	}
	return batch, nil
}

func (n *Normalizer) logSourceError(kind, id string, err error) {
	if errors.Is(err, ErrSourceUnavailable) {
		n.logger.Warnf("[Normalizer] %s source unavailable: %s", kind, id)
		return
	}
	n.logger.Errorf("[Normalizer] failed to read %s source %s: %v", kind, id, err)
}

// Dedup drops records whose key was already seen, keeping the first occurrence.
func Dedup(records []model.NormalizedRecord) []model.NormalizedRecord {
	seen := make(map[model.RecordKey]struct{}, len(records))
	out := make([]model.NormalizedRecord, 0, len(records))
	for _, r := range records {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
