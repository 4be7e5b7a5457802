package firewall

import (
	"fmt"
	"time"

	"ids-guard/internal/utils"

	"github.com/sirupsen/logrus"
)

// New builds the back-end selected by cfg.Mode.
func New(cfg utils.FirewallYAMLConfig, logger *logrus.Logger) (Firewall, error) {
	switch cfg.Mode {
	case "", "command":
		return NewCommandFirewall(cfg.BlockCommand, cfg.UnblockCommand, time.Duration(cfg.Timeout), logger)
	case "blackhole":
		fw, err := NewBlackholeFirewall(logger)
		if err != nil {
			return nil, err
		}
		return fw, nil
	case "noop":
		return NewNoopFirewall(logger), nil
	default:
		return nil, fmt.Errorf("unknown firewall mode %q", cfg.Mode)
	}
}
