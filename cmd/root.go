/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"flowrelay/pkg/config"
	"flowrelay/pkg/paramstore"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flowrelay",
	Short: "Relay chat platforms to a dialogue backend",
	Long:  "flowrelay connects chat channels such as Telegram and browser web chat to a Voiceflow or OpenAI dialogue backend, one session per chat.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = args
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (defaults to FLOWRELAY_CONFIG, ./config.json, ./config/config.json)")
}

// loadConfig reads the active config file and resolves ssm: secret references.
func loadConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(configPath); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	if !config.HasSecretRefs(cfg) {
		return cfg, nil
	}

	resolver, err := paramstore.NewFromConfig(ctx, cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("initialize secret resolver: %w", err)
	}
	if err := config.ResolveSecrets(ctx, cfg, resolver); err != nil {
		return nil, err
	}

	return cfg, nil
}
