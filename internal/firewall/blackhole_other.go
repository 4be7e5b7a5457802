//go:build !linux

package firewall

import (
	"context"

	"github.com/sirupsen/logrus"
)

type BlackholeFirewall struct{}

func NewBlackholeFirewall(logger *logrus.Logger) (*BlackholeFirewall, error) {
	return nil, ErrUnsupported
}

func (f *BlackholeFirewall) Name() string { return "blackhole" }

func (f *BlackholeFirewall) Block(ctx context.Context, ip string) error {
	return &Error{Action: ActionBlock, IP: ip, Err: ErrUnsupported}
}

func (f *BlackholeFirewall) Unblock(ctx context.Context, ip string) error {
	return &Error{Action: ActionUnblock, IP: ip, Err: ErrUnsupported}
}
