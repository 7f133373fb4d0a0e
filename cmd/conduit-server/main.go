// Package main provides the Conduit workflow server: REST API plus the
// embedded workflow engine.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"

	"github.com/inboxpilot/conduit/pkg/cmd"
	"github.com/inboxpilot/conduit/pkg/engine"
	"github.com/inboxpilot/conduit/pkg/handlers"
	"github.com/inboxpilot/conduit/pkg/log"
	"github.com/inboxpilot/conduit/pkg/protocol"
	"github.com/inboxpilot/conduit/pkg/registry"
	"github.com/inboxpilot/conduit/pkg/web"
)

const (
	defaultPort          = 9080
	defaultMaxConcurrent = 10
	shutdownTimeout      = 30 * time.Second
)

func main() {
	logger := log.WithModule("server")

	command := &cli.Command{
		Name:                  "conduit-server",
		Usage:                 "Run dependency-ordered workflows over a REST API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Instance store URL (memory://, postgres://..., redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (inproc, gochannel, kafka)",
				Value:   "inproc",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "definitions-path",
				Usage:   "Directory of workflow definition JSON files to load at startup",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Maximum number of simultaneously active workflow instances",
				Value:   defaultMaxConcurrent,
				Sources: cli.EnvVars("MAX_CONCURRENT_WORKFLOWS"),
			},
			&cli.StringFlag{
				Name:    "cleanup-schedule",
				Usage:   "Cron expression for terminal instance cleanup (empty disables it)",
				Sources: cli.EnvVars("CLEANUP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "cleanup-max-age",
				Usage:   "Age after which terminal instances are removed by the cleanup job",
				Value:   7 * 24 * time.Hour,
				Sources: cli.EnvVars("CLEANUP_MAX_AGE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("server")
	logger.InfoContext(ctx, "Initializing Conduit server")

	instanceStore, err := cmd.NewStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := instanceStore.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close instance store", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), "conduit", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	definitions := registry.NewDefinitionRegistry()

	if dir := command.String("definitions-path"); dir != "" {
		loaded, err := definitions.LoadDirectory(logger, dir)
		if err != nil {
			return err
		}

		logger.InfoContext(ctx, "Loaded workflow definitions", "count", loaded, "dir", dir)
	}

	handlerRegistry := registry.NewHandlerRegistry()
	// Capabilities are zero-valued here; embedding products inject real
	// implementations through their own entry points.
	handlers.RegisterBuiltins(handlerRegistry, protocol.Capabilities{})

	opts := []engine.Option{
		engine.WithMaxConcurrentWorkflows(command.Int("max-concurrent")),
	}

	if schedule := command.String("cleanup-schedule"); schedule != "" {
		opts = append(opts, engine.WithCleanup(schedule, command.Duration("cleanup-max-age")))
	}

	eng := engine.NewEngine(definitions, handlerRegistry, instanceStore, bus, logger, opts...)

	apiHandlers := web.NewAPIHandlers(eng, definitions, instanceStore,
		validator.New(validator.WithRequiredStructEnabled()))
	app := web.NewApp(apiHandlers)

	serverErr := make(chan error, 1)

	go func() {
		serverErr <- app.Listen(":" + strconv.Itoa(command.Int("port")))
	}()

	logger.InfoContext(ctx, "Conduit server listening", "port", command.Int("port"))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-stop:
		logger.InfoContext(ctx, "Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	if err := eng.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
