package main

import (
	"fmt"

	"github.com/fgeck/esxi-keepalive/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Verify SSH access to the hypervisor",
	RunE:  testConnection,
}

func testConnection(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadSetup()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	creds, err := loadCredentials(ctx, loader)
	if err != nil {
		return err
	}

	result := ssh.New(log.Logger, cfg.SSH).TestConnection(ctx, *creds)
	if !result.Ok() {
		log.Error().Err(result.Error).Str("host", creds.Host).Msg("connection test failed")
		return fmt.Errorf("connection test failed: %w", result.Error)
	}

	log.Info().Str("host", creds.Host).Str("user", creds.User).Msg("connection OK")
	return nil
}
