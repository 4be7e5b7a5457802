package firewall

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

const (
	ipPlaceholder  = "{ip}"
	defaultTimeout = 5 * time.Second
)

// CommandFirewall runs external commands such as ipset or iptables. The
// templates are split like a shell would; every {ip} is replaced by the
// address, which is appended as the last argument when no placeholder exists.
type CommandFirewall struct {
	block   []string
	unblock []string
	timeout time.Duration
	logger  *logrus.Logger
}

func NewCommandFirewall(blockCmd, unblockCmd string, timeout time.Duration, logger *logrus.Logger) (*CommandFirewall, error) {
	block, err := splitTemplate(blockCmd)
	if err != nil {
		return nil, fmt.Errorf("block command: %w", err)
	}
	unblock, err := splitTemplate(unblockCmd)
	if err != nil {
		return nil, fmt.Errorf("unblock command: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CommandFirewall{
		block:   block,
		unblock: unblock,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func splitTemplate(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}

func (f *CommandFirewall) Name() string { return "command" }

func (f *CommandFirewall) Block(ctx context.Context, ip string) error {
	return f.run(ctx, ActionBlock, f.block, ip)
}

func (f *CommandFirewall) Unblock(ctx context.Context, ip string) error {
	return f.run(ctx, ActionUnblock, f.unblock, ip)
}

func (f *CommandFirewall) run(ctx context.Context, action string, template []string, ip string) error {
	if _, err := parseIPv4(ip); err != nil {
		return &Error{Action: action, IP: ip, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := expand(template, ip)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	f.logger.WithFields(logrus.Fields{
		"action":   action,
		"ip":       ip,
		"duration": time.Since(start),
	}).Debug("[Firewall] command executed")

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Action: action, IP: ip, Output: output.String(), Timeout: true, Err: ctx.Err()}
		}
		return &Error{Action: action, IP: ip, Output: output.String(), Err: err}
	}
	return nil
}

func expand(template []string, ip string) []string {
	args := make([]string, 0, len(template)+1)
	replaced := false
	for _, arg := range template {
		if strings.Contains(arg, ipPlaceholder) {
			arg = strings.ReplaceAll(arg, ipPlaceholder, ip)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, ip)
	}
	return args
}
