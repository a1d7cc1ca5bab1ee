package models

import "time"

// VMInventory maps hypervisor VM ids to VM names.
type VMInventory map[string]string

// CycleResult summarizes one reconciliation cycle.
type CycleResult struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration

	Aborted     bool
	AbortReason string

	Listed           int // VMs reported by the hypervisor
	Targets          int // VMs accepted by the target policy
	PoweredOff       int // targets reported as powered off
	PowerOnIssued    []string
	StateQueryFailed int
	HostWakeSent     bool
}
