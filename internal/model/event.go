package model

import "time"

type BlockEventType string

const (
	EventProposed  BlockEventType = "proposed"
	EventBlocked   BlockEventType = "blocked"
	EventUnblocked BlockEventType = "unblocked"
	EventFailed    BlockEventType = "failed"
)

// Origins of a blocklist change.
const (
	SourceAPI     = "api"
	SourceMonitor = "monitor"
	SourceCLI     = "cli"
)

// BlockEvent is emitted whenever the blocklist or its enforcement changes.
type BlockEvent struct {
	ID        string         `json:"id"`
	Type      BlockEventType `json:"type"`
	IP        string         `json:"ip"`
	Source    string         `json:"source"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FirewallAction is one block or unblock invocation and its outcome.
type FirewallAction struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id,omitempty"`
	IP        string    `json:"ip"`
	Action    string    `json:"action"`
	Source    string    `json:"source"`
	OK        bool      `json:"ok"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
