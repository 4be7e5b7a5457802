package records

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ids-guard/internal/model"
	"ids-guard/internal/utils"

	"github.com/sirupsen/logrus"
)

// Snapshot is one published cycle result. It is never mutated after Publish.
type Snapshot struct {
	Records    []model.NormalizedRecord
	Alerts     []model.AlertRecord
	Generation uint64
	UpdatedAt  time.Time
}

// Store holds the merged record set. Readers get the last published snapshot
// without locking; Publish is expected from a single writer.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
	logger  *logrus.Logger
}

var emptySnapshot = &Snapshot{}

// NewStore restores the records persisted at path, if any. Alerts are not
// persisted and start empty.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}
	s.current.Store(emptySnapshot)
	if path == "" {
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", path, err)
	}
	info, _ := f.Stat()
	snap := &Snapshot{Records: records}
	if info != nil {
		snap.UpdatedAt = info.ModTime()
	}
	s.current.Store(snap)
	logger.Infof("[Records] restored %d records from %s", len(records), path)
	return s, nil
}

// Publish writes the records file and then swaps in the new snapshot, so
// readers see either the old set or the new one in full.
func (s *Store) Publish(records []model.NormalizedRecord, alerts []model.AlertRecord) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.path != "" {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, records); err != nil {
			return nil, err
		}
		if err := utils.WriteFileAtomic(s.path, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{
		Records:    records,
		Alerts:     alerts,
		Generation: s.current.Load().Generation + 1,
		UpdatedAt:  time.Now(),
	}
	s.current.Store(snap)
	s.logger.Debugf("[Records] published generation %d: %d records, %d alerts", snap.Generation, len(records), len(alerts))
	return snap, nil
}

// Load returns the current snapshot; never nil.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

func (s *Store) Path() string {
	return s.path
}
