package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/esxi-keepalive/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single keepalive cycle",
	Long: `Run a single keepalive cycle and exit:
1. Load hypervisor credentials
2. List all VMs on the host
3. Select VMs matching the target policy
4. Query the power state of each target
5. Power on every target reported as "Powered off"

Exits 0 even when the cycle is skipped (missing credentials, unreachable host).`,
	RunE: runOnce,
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadSetup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, *cfg, loader)
	result := runnerSvc.CheckAndStart(ctx)

	if result.Aborted {
		log.Warn().Str("reason", result.AbortReason).Msg("cycle skipped")
	}

	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
