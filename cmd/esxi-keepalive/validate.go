package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and secrets",
	Long:  `Validate the configuration and the secrets document without contacting the hypervisor.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, loader, err := loadSetup()
	if err != nil {
		return err
	}

	creds, err := loadCredentials(context.Background(), loader)
	if err != nil {
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Secrets:")
	fmt.Printf("  Source: %s\n", cfg.Secrets.Source)
	if cfg.Secrets.Source == models.SecretsSourceFile {
		fmt.Printf("  Path: %s\n", cfg.Secrets.Path)
	}
	fmt.Printf("  Host: %s\n", creds.Host)
	fmt.Printf("  User: %s\n", creds.User)
	fmt.Printf("  Password: (configured)\n")
	fmt.Println()
	fmt.Println("SSH:")
	fmt.Printf("  Port: %d\n", cfg.SSH.Port)
	fmt.Printf("  Connect timeout: %s\n", cfg.SSH.ConnectTimeout)
	fmt.Println()
	fmt.Println("Target Policy:")
	fmt.Printf("  Names: %s%d..%s%d\n", cfg.Target.Prefix, cfg.Target.RangeStart, cfg.Target.Prefix, cfg.Target.RangeEnd)
	fmt.Printf("  Excluded keyword: %s\n", cfg.Target.ExcludeKeyword)
	fmt.Println()
	fmt.Println("Daemon:")
	fmt.Printf("  Interval: %s\n", cfg.Daemon.Interval)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
	}

	return nil
}
