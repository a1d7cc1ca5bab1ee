// Package esxi drives VM power state through the ESXi vim-cmd CLI.
package esxi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/fgeck/esxi-keepalive/internal/services/ssh"
	"github.com/rs/zerolog"
)

// vim-cmd commands and the state phrase this package relies on.
const (
	ListVMsCommand    = "vim-cmd vmsvc/getallvms"
	PowerStateCommand = "vim-cmd vmsvc/power.getstate %s"
	PowerOnCommand    = "vim-cmd vmsvc/power.on %s"

	// PoweredOffPhrase is matched verbatim against power.getstate output.
	// A localized or reworded host output never matches, which leaves the VM alone.
	PoweredOffPhrase = "Powered off"
)

// Service defines the interface for hypervisor VM operations.
type Service interface {
	ListVMs(ctx context.Context, creds models.Credentials) (models.VMInventory, *models.CommandResult)
	PowerState(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult
	PowerOn(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult
}

// Impl implements the esxi Service interface.
type Impl struct {
	sshSvc ssh.Service
	logger zerolog.Logger
}

// New creates a new esxi service on top of an SSH service.
func New(logger zerolog.Logger, sshSvc ssh.Service) *Impl {
	return &Impl{
		sshSvc: sshSvc,
		logger: logger,
	}
}

// ListVMs returns the hypervisor inventory. A failed listing yields an empty
// inventory together with the failed command result.
func (s *Impl) ListVMs(ctx context.Context, creds models.Credentials) (models.VMInventory, *models.CommandResult) {
	result := s.sshSvc.Execute(ctx, creds, ListVMsCommand)
	if !result.Ok() {
		return models.VMInventory{}, result
	}

	vms := ParseInventory(result.Output)
	s.logger.Debug().Int("count", len(vms)).Msg("inventory listed")

	return vms, result
}

// PowerState queries the power state of a VM.
func (s *Impl) PowerState(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult {
	return s.sshSvc.Execute(ctx, creds, fmt.Sprintf(PowerStateCommand, vmID))
}

// PowerOn asks the hypervisor to power on a VM. The outcome is not verified.
func (s *Impl) PowerOn(ctx context.Context, creds models.Credentials, vmID string) *models.CommandResult {
	return s.sshSvc.Execute(ctx, creds, fmt.Sprintf(PowerOnCommand, vmID))
}

// ParseInventory parses getallvms output into id -> name. Lines whose first
// token is not a non-negative integer, or that have fewer than two tokens,
// are skipped; this also drops the header line.
func ParseInventory(output string) models.VMInventory {
	vms := models.VMInventory{}

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if _, err := strconv.ParseUint(fields[0], 10, 64); err != nil {
			continue
		}
		vms[fields[0]] = fields[1]
	}

	return vms
}

// IsPoweredOff reports whether power.getstate output says the VM is off.
func IsPoweredOff(state string) bool {
	return strings.Contains(state, PoweredOffPhrase)
}
