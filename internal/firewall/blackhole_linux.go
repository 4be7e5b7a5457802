//go:build linux

package firewall

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// BlackholeFirewall drops traffic to an address by installing a blackhole
// /32 route in the main table. Needs CAP_NET_ADMIN.
type BlackholeFirewall struct {
	logger *logrus.Logger
}

func NewBlackholeFirewall(logger *logrus.Logger) (*BlackholeFirewall, error) {
	return &BlackholeFirewall{logger: logger}, nil
}

func (f *BlackholeFirewall) Name() string { return "blackhole" }

func (f *BlackholeFirewall) Block(ctx context.Context, ip string) error {
	route, err := blackholeRoute(ip)
	if err != nil {
		return &Error{Action: ActionBlock, IP: ip, Err: err}
	}
	if err := netlink.RouteReplace(route); err != nil {
		return &Error{Action: ActionBlock, IP: ip, Err: err}
	}
	f.logger.Debugf("[Firewall] blackhole route added for %s", ip)
	return nil
}

func (f *BlackholeFirewall) Unblock(ctx context.Context, ip string) error {
	route, err := blackholeRoute(ip)
	if err != nil {
		return &Error{Action: ActionUnblock, IP: ip, Err: err}
	}
	if err := netlink.RouteDel(route); err != nil {
		// already gone
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return &Error{Action: ActionUnblock, IP: ip, Err: err}
	}
	f.logger.Debugf("[Firewall] blackhole route removed for %s", ip)
	return nil
}

func blackholeRoute(ip string) (*netlink.Route, error) {
	addr, err := parseIPv4(ip)
	if err != nil {
		return nil, err
	}
	return &netlink.Route{
		Dst:   &net.IPNet{IP: addr, Mask: net.CIDRMask(32, 32)},
		Type:  unix.RTN_BLACKHOLE,
		Table: unix.RT_TABLE_MAIN,
	}, nil
}
