package firewall

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// NoopFirewall only logs what it would do. It remembers the addresses it
// was asked to block, which makes it usable in dry runs and tests.
type NoopFirewall struct {
	mu      sync.Mutex
	blocked map[string]struct{}
	logger  *logrus.Logger
}

func NewNoopFirewall(logger *logrus.Logger) *NoopFirewall {
	return &NoopFirewall{blocked: make(map[string]struct{}), logger: logger}
}

func (f *NoopFirewall) Name() string { return "noop" }

func (f *NoopFirewall) Block(ctx context.Context, ip string) error {
	if _, err := parseIPv4(ip); err != nil {
		return &Error{Action: ActionBlock, IP: ip, Err: err}
	}
	f.mu.Lock()
	f.blocked[ip] = struct{}{}
	f.mu.Unlock()
	f.logger.Infof("[Firewall] dry-run: would block %s", ip)
	return nil
}

func (f *NoopFirewall) Unblock(ctx context.Context, ip string) error {
	f.mu.Lock()
	delete(f.blocked, ip)
	f.mu.Unlock()
	f.logger.Infof("[Firewall] dry-run: would unblock %s", ip)
	return nil
}

func (f *NoopFirewall) Blocked(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blocked[ip]
	return ok
}
