package ingest

import (
	"sync"

	"ids-guard/internal/utils"
)

// ProcessedSet persists the identifiers of capture sources already ingested.
type ProcessedSet struct {
	mu    sync.RWMutex
	path  string
	ids   map[string]struct{}
	order []string
}

func LoadProcessedSet(path string) (*ProcessedSet, error) {
	lines, err := utils.ReadLines(path)
	if err != nil {
		return nil, err
	}
	ps := &ProcessedSet{
		path: path,
		ids:  make(map[string]struct{}, len(lines)),
	}
	for _, id := range lines {
		ps.add(id)
	}
	return ps, nil
}

func (ps *ProcessedSet) Has(id string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.ids[id]
	return ok
}

func (ps *ProcessedSet) Mark(ids ...string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, id := range ids {
		ps.add(id)
	}
}

func (ps *ProcessedSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.order)
}

// Save rewrites the marker file atomically.
func (ps *ProcessedSet) Save() error {
	ps.mu.RLock()
	ids := make([]string, len(ps.order))
	copy(ids, ps.order)
	ps.mu.RUnlock()

	return utils.WriteLines(ps.path, ids)
}

func (ps *ProcessedSet) add(id string) {
	if _, ok := ps.ids[id]; ok {
		return
	}
	ps.ids[id] = struct{}{}
	ps.order = append(ps.order, id)
}
