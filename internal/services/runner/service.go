// Package runner reconciles VM power state against the target policy.
package runner

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/fgeck/esxi-keepalive/internal/services/esxi"
	"github.com/fgeck/esxi-keepalive/internal/services/filter"
	"github.com/fgeck/esxi-keepalive/internal/services/secrets"
	"github.com/fgeck/esxi-keepalive/internal/services/ssh"
	"github.com/fgeck/esxi-keepalive/internal/services/wol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Abort reasons reported in CycleResult.
const (
	AbortNoCredentials = "credentials unavailable"
	AbortCancelled     = "cancelled"
)

// Service defines the interface for the keepalive runner.
type Service interface {
	CheckAndStart(ctx context.Context) *models.CycleResult
	Loop(ctx context.Context, interval time.Duration) error
}

// TargetFilter decides whether a VM name is managed.
type TargetFilter interface {
	IsTarget(name string) bool
}

// Impl implements the runner Service interface.
type Impl struct {
	loader  secrets.Loader
	esxiSvc esxi.Service
	filter  TargetFilter
	wolSvc  wol.Service
	wolCfg  *models.WOLConfig
	logger  zerolog.Logger
}

// New creates a new runner service from the loaded configuration.
func New(logger zerolog.Logger, cfg models.Config, loader secrets.Loader) *Impl {
	return &Impl{
		loader:  loader,
		esxiSvc: esxi.New(logger, ssh.New(logger, cfg.SSH)),
		filter:  filter.New(cfg.Target),
		wolSvc:  wol.New(logger),
		wolCfg:  cfg.WOL,
		logger:  logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	loader secrets.Loader,
	esxiSvc esxi.Service,
	targetFilter TargetFilter,
	wolSvc wol.Service,
	wolCfg *models.WOLConfig,
) *Impl {
	return &Impl{
		loader:  loader,
		esxiSvc: esxiSvc,
		filter:  targetFilter,
		wolSvc:  wolSvc,
		wolCfg:  wolCfg,
		logger:  logger,
	}
}

// CheckAndStart runs one reconciliation cycle: every powered-off target VM
// gets a power-on command. Failures never escape the cycle; they are logged
// and reflected in the returned summary.
func (s *Impl) CheckAndStart(ctx context.Context) *models.CycleResult {
	result := &models.CycleResult{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	defer func() { result.Duration = time.Since(result.StartTime) }()

	creds, err := s.loader.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("error loading secrets")
		result.Aborted = true
		result.AbortReason = AbortNoCredentials
		return result
	}

	logger := s.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().
		Str("host", creds.Host).
		Time("started", result.StartTime).
		Msg("--- run ---")

	vms, listResult := s.esxiSvc.ListVMs(ctx, *creds)
	result.Listed = len(vms)

	if !listResult.Ok() {
		s.wakeHost(ctx, logger, listResult, result)
	}

	for _, vmID := range slices.Sorted(maps.Keys(vms)) {
		if ctx.Err() != nil {
			result.Aborted = true
			result.AbortReason = AbortCancelled
			logger.Warn().Msg("cycle cancelled")
			break
		}

		name := vms[vmID]
		if !s.filter.IsTarget(name) {
			continue
		}
		result.Targets++

		state := s.esxiSvc.PowerState(ctx, *creds, vmID)
		if !state.Ok() {
			result.StateQueryFailed++
			continue
		}

		logger.Debug().Str("vm_id", vmID).Str("vm", name).Str("state", state.Output).Msg("power state")

		if !esxi.IsPoweredOff(state.Output) {
			continue
		}
		result.PoweredOff++

		logger.Warn().Str("vm_id", vmID).Str("vm", name).Msg("VM is down, powering on")
		s.esxiSvc.PowerOn(ctx, *creds, vmID)
		result.PowerOnIssued = append(result.PowerOnIssued, vmID)
	}

	logger.Info().
		Int("listed", result.Listed).
		Int("targets", result.Targets).
		Int("powered_off", result.PoweredOff).
		Int("state_query_failed", result.StateQueryFailed).
		Dur("duration", time.Since(result.StartTime)).
		Msg("run completed")

	return result
}

// wakeHost sends a magic packet when the hypervisor could not be reached at all.
func (s *Impl) wakeHost(ctx context.Context, logger zerolog.Logger, listResult *models.CommandResult, result *models.CycleResult) {
	if s.wolCfg == nil || listResult.Connected || ctx.Err() != nil {
		return
	}

	logger.Warn().Msg("hypervisor unreachable, sending Wake-on-LAN")

	wolResult, err := s.wolSvc.Wake(ctx, *s.wolCfg)
	if err != nil {
		logger.Error().Err(err).Msg("WOL failed")
		return
	}
	if wolResult.Error != nil {
		logger.Error().Err(wolResult.Error).Msg("WOL failed")
		return
	}

	result.HostWakeSent = wolResult.PacketSent
}

// Loop runs cycles until ctx is cancelled. The interval is measured from the
// end of one cycle to the start of the next.
func (s *Impl) Loop(ctx context.Context, interval time.Duration) error {
	s.logger.Info().Dur("interval", interval).Msg("keepalive loop started")

	for ctx.Err() == nil {
		s.CheckAndStart(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	s.logger.Info().Msg("keepalive loop stopped")
	return nil
}
