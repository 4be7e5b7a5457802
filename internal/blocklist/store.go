package blocklist

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ids-guard/internal/firewall"
	"ids-guard/internal/model"
	"ids-guard/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventSink receives block events. Delivery errors are logged only.
type EventSink interface {
	SendEvent(event model.BlockEvent) error
}

// Auditor persists firewall actions.
type Auditor interface {
	RecordAction(ctx context.Context, action model.FirewallAction) error
}

// Recorder exposes store activity as metrics.
type Recorder interface {
	ObserveFirewallAction(action string, ok bool)
	SetBlockedIPs(n int)
	SetProposedIPs(n int)
}

type Options struct {
	HumanPath    string
	ProposedPath string
	Firewall     firewall.Firewall
	Events       EventSink
	Auditor      Auditor
	Metrics      Recorder
	Logger       *logrus.Logger
}

// Store keeps the human-managed blocklist and the list proposed by anomaly
// detection. Both are persisted one IP per line. The effective blocklist is
// their union, human entries first. The set of addresses actually enforced
// on the firewall is tracked in memory and converges on the effective list
// through Reconcile.
type Store struct {
	mu       sync.RWMutex
	human    []string
	proposed []string

	// serializes firewall calls and guards enforced
	reconcileMu sync.Mutex
	enforced    map[string]struct{}

	humanPath    string
	proposedPath string
	firewall     firewall.Firewall
	events       EventSink
	auditor      Auditor
	metrics      Recorder
	logger       *logrus.Logger
}

// Page is one slice of the effective blocklist.
type Page struct {
	IPs     []string `json:"blocked_ips"`
	Total   int      `json:"total_items"`
	Page    int      `json:"current_page"`
	PerPage int      `json:"per_page"`
}

// ReconcileResult lists what one reconciliation pass changed.
type ReconcileResult struct {
	Blocked   []string
	Unblocked []string
	Failures  []Failure
}

// Open loads both lists. Invalid or duplicate lines are dropped with a warning.
func Open(opts Options) (*Store, error) {
	if opts.Firewall == nil {
		return nil, fmt.Errorf("blocklist: firewall is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	s := &Store{
		enforced:     make(map[string]struct{}),
		humanPath:    opts.HumanPath,
		proposedPath: opts.ProposedPath,
		firewall:     opts.Firewall,
		events:       opts.Events,
		auditor:      opts.Auditor,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}

	var err error
	if s.human, err = s.load(opts.HumanPath); err != nil {
		return nil, err
	}
	if s.proposed, err = s.load(opts.ProposedPath); err != nil {
		return nil, err
	}
	s.updateGauges()
	s.logger.Infof("[Blocklist] loaded %d human and %d proposed entries", len(s.human), len(s.proposed))
	return s, nil
}

func (s *Store) load(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	lines, err := utils.ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocklist %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, ip := range lines {
		if ValidateIP(ip) != nil {
			s.logger.Warnf("[Blocklist] ignoring invalid entry %q in %s", ip, path)
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out, nil
}

// ValidateIP accepts only dotted-quad IPv4: four decimal parts, each 0-255,
// without leading zeros.
func ValidateIP(ip string) error {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrInvalidInput, ip)
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 || (len(part) > 1 && part[0] == '0') {
			return fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrInvalidInput, ip)
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrInvalidInput, ip)
			}
		}
		if n, _ := strconv.Atoi(part); n > 255 {
			return fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrInvalidInput, ip)
		}
	}
	return nil
}

// Add blocks ip on behalf of a human. The entry is persisted before the
// firewall is touched; a firewall failure is returned as a ReconcileError
// and the entry stays.
func (s *Store) Add(ctx context.Context, ip, source string) error {
	if err := ValidateIP(ip); err != nil {
		return err
	}

	s.mu.Lock()
	if s.effectiveContains(ip) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyBlocked, ip)
	}
	next := append(append([]string(nil), s.human...), ip)
	if err := s.persist(s.humanPath, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.human = next
	s.updateGauges()
	s.mu.Unlock()

	s.logger.Infof("[Blocklist] %s added by %s", ip, source)

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	if _, ok := s.enforced[ip]; ok {
		return nil
	}
	if err := s.apply(ctx, firewall.ActionBlock, ip, source, ""); err != nil {
		return &ReconcileError{Failures: []Failure{{IP: ip, Action: firewall.ActionBlock, Err: err}}}
	}
	return nil
}

// Remove unblocks ip from the human list. Addresses that are only proposed
// by detection cannot be removed here; they leave the effective list when a
// later cycle stops proposing them.
func (s *Store) Remove(ctx context.Context, ip, source string) error {
	if err := ValidateIP(ip); err != nil {
		return err
	}

	s.mu.Lock()
	idx := indexOf(s.human, ip)
	if idx < 0 {
		proposed := indexOf(s.proposed, ip) >= 0
		s.mu.Unlock()
		if proposed {
			return fmt.Errorf("%w: %s is proposed by anomaly detection, not by an operator", ErrNotBlocked, ip)
		}
		return fmt.Errorf("%w: %s", ErrNotBlocked, ip)
	}
	next := make([]string, 0, len(s.human)-1)
	next = append(next, s.human[:idx]...)
	next = append(next, s.human[idx+1:]...)
	if err := s.persist(s.humanPath, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.human = next
	s.updateGauges()
	s.mu.Unlock()

	s.logger.Infof("[Blocklist] %s removed by %s", ip, source)

	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	s.mu.RLock()
	desired := s.effectiveContains(ip)
	s.mu.RUnlock()
	if desired {
		s.logger.Infof("[Blocklist] %s stays enforced, it is still proposed", ip)
		return nil
	}
	if _, ok := s.enforced[ip]; !ok {
		return nil
	}
	if err := s.apply(ctx, firewall.ActionUnblock, ip, source, ""); err != nil {
		return &ReconcileError{Failures: []Failure{{IP: ip, Action: firewall.ActionUnblock, Err: err}}}
	}
	return nil
}

// List pages through the effective blocklist. Pages past the end are empty.
func (s *Store) List(page, perPage int) (*Page, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("%w: page and per_page must be >= 1", ErrInvalidInput)
	}
	all := s.Effective()
	p := &Page{IPs: []string{}, Total: len(all), Page: page, PerPage: perPage}
	start := (page - 1) * perPage
	if start >= len(all) {
		return p, nil
	}
	end := min(start+perPage, len(all))
	p.IPs = append(p.IPs, all[start:end]...)
	return p, nil
}

// Effective returns the human entries followed by proposed entries not already listed.
func (s *Store) Effective() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effective()
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.effective())
}

func (s *Store) Contains(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effectiveContains(ip)
}

func (s *Store) Human() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.human...)
}

func (s *Store) Proposed() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.proposed...)
}

// ReplaceProposed overwrites the proposed list with this cycle's candidates.
// Human entries are untouched.
func (s *Store) ReplaceProposed(ips []string, cycleID string) error {
	seen := make(map[string]struct{}, len(ips))
	next := make([]string, 0, len(ips))
	for _, ip := range ips {
		if ValidateIP(ip) != nil {
			s.logger.Warnf("[Blocklist] dropping invalid candidate %q", ip)
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		next = append(next, ip)
	}

	s.mu.Lock()
	if err := s.persist(s.proposedPath, next); err != nil {
		s.mu.Unlock()
		return err
	}
	previous := make(map[string]struct{}, len(s.proposed))
	for _, ip := range s.proposed {
		previous[ip] = struct{}{}
	}
	var fresh []string
	for _, ip := range next {
		if _, ok := previous[ip]; ok {
			continue
		}
		if indexOf(s.human, ip) >= 0 {
			continue
		}
		fresh = append(fresh, ip)
	}
	s.proposed = next
	s.updateGauges()
	s.mu.Unlock()

	for _, ip := range fresh {
		s.emit(model.EventProposed, ip, model.SourceMonitor, cycleID, "flagged by anomaly detection")
	}
	return nil
}

// Reconcile blocks every effective address not yet enforced and unblocks
// every enforced address no longer effective. Failed actions stay pending
// and are retried on the next call.
func (s *Store) Reconcile(ctx context.Context, source, cycleID string) (*ReconcileResult, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	desired := s.Effective()
	want := make(map[string]struct{}, len(desired))
	for _, ip := range desired {
		want[ip] = struct{}{}
	}

	var toUnblock []string
	for ip := range s.enforced {
		if _, ok := want[ip]; !ok {
			toUnblock = append(toUnblock, ip)
		}
	}
	sort.Strings(toUnblock)

	res := &ReconcileResult{}
	for _, ip := range desired {
		if _, ok := s.enforced[ip]; ok {
			continue
		}
		if err := s.apply(ctx, firewall.ActionBlock, ip, source, cycleID); err != nil {
			res.Failures = append(res.Failures, Failure{IP: ip, Action: firewall.ActionBlock, Err: err})
			continue
		}
		res.Blocked = append(res.Blocked, ip)
	}
	for _, ip := range toUnblock {
		if err := s.apply(ctx, firewall.ActionUnblock, ip, source, cycleID); err != nil {
			res.Failures = append(res.Failures, Failure{IP: ip, Action: firewall.ActionUnblock, Err: err})
			continue
		}
		res.Unblocked = append(res.Unblocked, ip)
	}

	if len(res.Blocked)+len(res.Unblocked)+len(res.Failures) > 0 {
		s.logger.WithFields(logrus.Fields{
			"cycle_id":  cycleID,
			"blocked":   len(res.Blocked),
			"unblocked": len(res.Unblocked),
			"failed":    len(res.Failures),
		}).Info("[Blocklist] reconciled")
	}
	if len(res.Failures) > 0 {
		return res, &ReconcileError{Failures: res.Failures}
	}
	return res, nil
}

// Enforced returns the addresses currently enforced, sorted.
func (s *Store) Enforced() []string {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()
	out := make([]string, 0, len(s.enforced))
	for ip := range s.enforced {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}

// apply runs one firewall action. Caller holds reconcileMu.
func (s *Store) apply(ctx context.Context, action, ip, source, cycleID string) error {
	var err error
	if action == firewall.ActionBlock {
		err = s.firewall.Block(ctx, ip)
	} else {
		err = s.firewall.Unblock(ctx, ip)
	}

	record := model.FirewallAction{
		ID:        uuid.NewString(),
		CycleID:   cycleID,
		IP:        ip,
		Action:    action,
		Source:    source,
		OK:        err == nil,
		Timestamp: time.Now(),
	}
	if err != nil {
		record.Message = err.Error()
	}
	if s.auditor != nil {
		if aerr := s.auditor.RecordAction(ctx, record); aerr != nil {
			s.logger.Warnf("[Blocklist] failed to audit %s %s: %v", action, ip, aerr)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveFirewallAction(action, err == nil)
	}

	if err != nil {
		s.logger.Errorf("[Blocklist] %s %s via %s failed: %v", action, ip, s.firewall.Name(), err)
		s.emit(model.EventFailed, ip, source, cycleID, err.Error())
		return err
	}

	if action == firewall.ActionBlock {
		s.enforced[ip] = struct{}{}
		s.emit(model.EventBlocked, ip, source, cycleID, "")
	} else {
		delete(s.enforced, ip)
		s.emit(model.EventUnblocked, ip, source, cycleID, "")
	}
	return nil
}

func (s *Store) emit(typ model.BlockEventType, ip, source, cycleID, message string) {
	if s.events == nil {
		return
	}
	event := model.BlockEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		IP:        ip,
		Source:    source,
		CycleID:   cycleID,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := s.events.SendEvent(event); err != nil {
		s.logger.Warnf("[Blocklist] failed to send %s event for %s: %v", typ, ip, err)
	}
}

func (s *Store) persist(path string, ips []string) error {
	if path == "" {
		return nil
	}
	if err := utils.WriteLines(path, ips); err != nil {
		return fmt.Errorf("failed to persist blocklist %s: %w", path, err)
	}
	return nil
}

// effective needs s.mu held.
func (s *Store) effective() []string {
	out := make([]string, 0, len(s.human)+len(s.proposed))
	out = append(out, s.human...)
	for _, ip := range s.proposed {
		if indexOf(s.human, ip) < 0 {
			out = append(out, ip)
		}
	}
	return out
}

func (s *Store) effectiveContains(ip string) bool {
	return indexOf(s.human, ip) >= 0 || indexOf(s.proposed, ip) >= 0
}

// updateGauges needs s.mu held.
func (s *Store) updateGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetBlockedIPs(len(s.effective()))
	s.metrics.SetProposedIPs(len(s.proposed))
}

func indexOf(list []string, ip string) int {
	for i, v := range list {
		if v == ip {
			return i
		}
	}
	return -1
}
