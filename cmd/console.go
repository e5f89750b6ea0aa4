package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flowrelay/pkg/backend"
	backendtypes "flowrelay/pkg/backend/types"
	"flowrelay/pkg/config"
	"flowrelay/pkg/dispatcher"
	"flowrelay/pkg/logger"
	"flowrelay/pkg/session"
	"flowrelay/pkg/ui/chat"

	"github.com/spf13/cobra"
)

const consoleClientName = "console"

var consoleText string

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console [text]",
	Short: "Talk to the backend from the terminal",
	Long:  "Loads configuration, connects to the configured backend, and either sends one text turn or starts an interactive terminal chat through the same dispatcher the gateway uses.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runConsole(ctx, resolveConsoleText(args))
	},
}

func runConsole(ctx context.Context, text string) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closer, err := consoleLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer closer.Close()

	client, err := backend.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	if checker, ok := client.(backend.HealthChecker); ok {
		if err := checker.Health(ctx); err != nil {
			return fmt.Errorf("backend health check failed: %w", err)
		}
	}

	console := newConsole(cfg, client, log)
	info := chat.RuntimeInfo{Backend: backendKind(cfg), Client: consoleClientName, ChatID: chat.ChatID}
	if text != "" {
		return chat.RunOneShot(ctx, console.Turn, text, info)
	}
	return chat.RunInteractive(ctx, console.Turn, info)
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&consoleText, "text", "t", "", "text to send as a single turn")
}

func resolveConsoleText(args []string) string {
	if value := strings.TrimSpace(consoleText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func newConsole(cfg *config.Config, client backend.Backend, log *slog.Logger) *chat.Console {
	renderer := chat.NewRenderer()
	store := session.NewStore(
		session.WithTTL(time.Duration(cfg.Sessions.TTLSeconds)*time.Second),
		session.WithLogger(log),
	)
	d := dispatcher.New(store, client, renderer,
		dispatcher.WithClientName(consoleClientName),
		dispatcher.WithLogger(log),
		dispatcher.WithLaunchVariables(backendtypes.Variables(cfg.Backend.LaunchVariables)),
	)
	return chat.NewConsole(d, renderer)
}

// consoleLogger writes to logging.file when set. Otherwise logs are dropped so
// they do not draw over the terminal UI.
func consoleLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	if strings.TrimSpace(cfg.File) == "" {
		return slog.New(slog.DiscardHandler), io.NopCloser(nil), nil
	}
	return logger.New(cfg)
}
