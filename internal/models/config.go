// Package models contains the data structures used throughout esxi-keepalive.
package models

import "time"

// Secrets sources.
const (
	SecretsSourceFile     = "file"
	SecretsSourceEmbedded = "embedded"
)

// Config holds the complete configuration for the keepalive daemon.
type Config struct {
	Secrets SecretsConfig
	SSH     SSHConfig
	Target  TargetPolicy
	Daemon  DaemonSettings
	WOL     *WOLConfig // nil if not configured
}

// SecretsConfig selects where hypervisor credentials come from.
type SecretsConfig struct {
	Source string // "file" (default) or "embedded"
	Path   string // secrets document path, used by the file source
}

// SSHConfig holds transport settings for the remote command client.
type SSHConfig struct {
	Port           int
	ConnectTimeout time.Duration
}

// TargetPolicy decides which VMs are kept alive.
type TargetPolicy struct {
	Prefix         string // e.g. "win"
	RangeStart     uint64 // inclusive
	RangeEnd       uint64 // inclusive
	ExcludeKeyword string // e.g. "maintenance"
}

// DaemonSettings holds the polling loop settings.
type DaemonSettings struct {
	Interval time.Duration // wait between the end of one cycle and the start of the next
}
