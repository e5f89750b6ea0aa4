package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"flowrelay/pkg/channel"
	"flowrelay/pkg/channel/telegram"
	"flowrelay/pkg/channel/webchat"
	"flowrelay/pkg/config"
	"flowrelay/pkg/gateway"
	"flowrelay/pkg/logger"

	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs every enabled channel against the configured backend, with webhook, web chat, admin, health and readiness endpoints.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runGateway(ctx)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	base, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(base)
	log := base.With("component", "cmd.gateway")

	adapters, err := enabledAdapters(cfg, log)
	if err != nil {
		return err
	}

	svc, err := gateway.NewService(cfg, adapters, log)
	if err != nil {
		return fmt.Errorf("initialize gateway: %w", err)
	}

	log.Info("Gateway starting",
		"channels", enabledChannelNames(adapters),
		"backend", backendKind(cfg),
		"dedup", cfg.Dedup.Kind,
		"journal", cfg.Journal.Enabled,
	)
	err = svc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("Gateway stopped")
		return nil
	}
	return err
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram channel: %w", err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Websocket.Enabled {
		adapters = append(adapters, webchat.NewAdapter(cfg.Channels.Websocket, log))
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

func backendKind(cfg *config.Config) string {
	if kind := strings.TrimSpace(cfg.Backend.Kind); kind != "" {
		return kind
	}
	return config.BackendVoiceflow
}
