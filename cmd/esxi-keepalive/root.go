package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/esxi-keepalive/internal/config"
	"github.com/fgeck/esxi-keepalive/internal/models"
	"github.com/fgeck/esxi-keepalive/internal/services/secrets"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// EmbeddedSecrets is a JSON secrets document set at build time with
	// -ldflags "-X main.EmbeddedSecrets=...". Used when secrets.source is embedded.
	EmbeddedSecrets = ""

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "esxi-keepalive",
	Short: "Keeps a pool of ESXi worker VMs powered on",
	Long: `esxi-keepalive checks the VMs on an ESXi host over SSH and powers on
every VM that matches the target naming policy (e.g. win201..win226) and is
found powered off. VMs with "maintenance" in their name are never touched.

Run "daemon" as a long-lived service, or "run" from an external scheduler
(cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional, defaults apply without it)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(testConnectionCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads the config file when one is given, defaults otherwise.
func loadConfig() (*models.Config, error) {
	parser := config.NewParser()

	if configFile == "" {
		cfg, err := parser.LoadDefaults()
		if err != nil {
			log.Error().Err(err).Msg("invalid configuration")
			return nil, err
		}
		return cfg, nil
	}

	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	return cfg, nil
}

// loadSetup loads the configuration and builds the configured secrets loader.
func loadSetup() (*models.Config, secrets.Loader, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	loader, err := secrets.NewLoader(cfg.Secrets, EmbeddedSecrets)
	if err != nil {
		log.Error().Err(err).Msg("invalid secrets configuration")
		return nil, nil, err
	}

	return cfg, loader, nil
}

// loadCredentials is used by the interactive commands, which fail on missing credentials.
func loadCredentials(ctx context.Context, loader secrets.Loader) (*models.Credentials, error) {
	creds, err := loader.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load secrets")
		return nil, fmt.Errorf("loading secrets: %w", err)
	}
	return creds, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
