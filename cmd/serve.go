package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"simplexbridge/pkg/bus"
	"simplexbridge/pkg/config"
	"simplexbridge/pkg/engine"
	"simplexbridge/pkg/engine/simplex"
	"simplexbridge/pkg/engine/telegram"
	"simplexbridge/pkg/gateway"
	"simplexbridge/pkg/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	Long:  "Starts the HTTP API and event stream, then connects the configured chat engine. Exits non-zero when the engine cannot be started.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.serve")

		starter, err := newStarter(cfg, appLogger)
		if err != nil {
			log.Error("Engine configuration invalid", "error", err)
			return err
		}

		avatar, err := engine.LoadAvatar(cfg.Bot.AvatarPath)
		if err != nil {
			log.Warn("Ignoring bot avatar", "path", cfg.Bot.AvatarPath, "error", err)
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, bus.NewRegistry(appLogger), appLogger)
		if err != nil {
			log.Error("Failed to initialize bridge", "error", err)
			return err
		}

		log.Info("Bridge starting", "address", cfg.Addr(), "engine", cfg.Engine.Kind, "bot_name", cfg.Bot.Name, "avatar", avatar != "")
		if err := svc.Run(runCtx, starter, gateway.EngineOptions(cfg, avatar)); err != nil {
			log.Error("Bridge failed", "category", gateway.CategoryOf(err), "error", err, "cause", errorCause(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newStarter picks the engine backend named by cfg.
func newStarter(cfg *config.Config, log *slog.Logger) (engine.Starter, error) {
	switch cfg.Engine.Kind {
	case config.EngineSimplex:
		return simplex.Starter{
			URL:     cfg.Engine.SimplexWSURL,
			CLIPath: cfg.Engine.SimplexCLI,
			Log:     log,
		}, nil
	case config.EngineTelegram:
		return telegram.Starter{
			Token:     cfg.Engine.TelegramToken,
			AllowFrom: cfg.Engine.TelegramAllowFrom,
			Log:       log,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", cfg.Engine.Kind)
	}
}

func errorCause(err error) string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Err != nil {
		return gwErr.Err.Error()
	}
	return ""
}
