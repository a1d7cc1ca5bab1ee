package main

import (
	"github.com/fgeck/esxi-keepalive/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run keepalive cycles on a fixed interval",
	Long: `Run keepalive cycles forever. The next cycle starts daemon.interval
(default 60s) after the previous one finished. SIGINT or SIGTERM stops the
loop between commands.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadSetup()
	if err != nil {
		return err
	}

	log.Info().
		Str("secrets_source", cfg.Secrets.Source).
		Str("prefix", cfg.Target.Prefix).
		Uint64("range_start", cfg.Target.RangeStart).
		Uint64("range_end", cfg.Target.RangeEnd).
		Dur("interval", cfg.Daemon.Interval).
		Msg("configuration loaded")

	ctx, cancel := signalContext()
	defer cancel()

	runnerSvc := runner.New(log.Logger, *cfg, loader)
	return runnerSvc.Loop(ctx, cfg.Daemon.Interval)
}
