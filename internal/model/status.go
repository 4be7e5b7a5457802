package model

import "time"

// MonitorStatus is written only by the monitor loop.
type MonitorStatus struct {
	// Running reports the IDS process, Monitoring the detection loop.
	Running        bool      `json:"running"`
	Monitoring     bool      `json:"monitoring"`
	AlertsInBuffer int       `json:"alerts_in_buffer"`
	BlockedIPs     int       `json:"blocked_ips"`
	Cycles         uint64    `json:"cycles"`
	LastCycleAt    time.Time `json:"last_cycle_at,omitempty"`
	LastCycleID    string    `json:"last_cycle_id,omitempty"`
	LastCycleError string    `json:"last_cycle_error,omitempty"`
}
