package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	ActionBlock   = "block"
	ActionUnblock = "unblock"
)

// ErrUnsupported is returned by back-ends that cannot run on this platform.
var ErrUnsupported = errors.New("firewall back-end not supported on this platform")

// Firewall enforces block decisions for single IPv4 addresses.
type Firewall interface {
	Block(ctx context.Context, ip string) error
	Unblock(ctx context.Context, ip string) error
	Name() string
}

// Error describes a failed firewall action.
type Error struct {
	Action  string
	IP      string
	Output  string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Action, e.IP)
	if e.Timeout {
		b.WriteString(": timed out")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, " (output: %s)", out)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func parseIPv4(ip string) (net.IP, error) {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return nil, fmt.Errorf("not an IPv4 address: %q", ip)
	}
	return parsed, nil
}
