package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SmithLEDs/wb-buttonLight/internal/app"
	"github.com/SmithLEDs/wb-buttonLight/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath   string
	resetStorage bool
	check        bool
	showVersion  bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("buttonlightd", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	fs.BoolVar(&opts.resetStorage, "reset-storage", false, "Forget remembered relay states of master groups on startup")
	fs.BoolVar(&opts.check, "check", false, "Validate the configuration, list the lighting groups and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	err := fs.Parse(args)
	return opts, err
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println("wb-buttonlight", version)
		return
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", opts.configPath).Msg("Failed to load configuration")
	}

	log.Logger = newLogger(cfg.Log, os.Stderr)
	logGroups(cfg)

	if opts.check {
		log.Info().Str("config", opts.configPath).Msg("Configuration is valid")
		return
	}

	log.Info().
		Str("version", version).
		Str("config", opts.configPath).
		Str("registry", cfg.Registry.Driver).
		Msg("Starting wb-buttonlight")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if opts.resetStorage {
		if _, err := application.ResetStorage(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear remembered relay states")
		}
	}

	ctx := app.SignalContext(context.Background())

	if err := application.Start(ctx); err != nil {
		_ = application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(cfg config.LogConfig, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if !cfg.JSON {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		}
	}

	level, err := zerolog.ParseLevel(cfg.GetLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func logGroups(cfg *config.Config) {
	for _, g := range cfg.Groups {
		log.Info().
			Str("group", g.Name).
			Str("title", g.Title).
			Int("buttons", len(g.Buttons)).
			Int("lights", len(g.Lights)).
			Int("motion", len(g.Motion)).
			Bool("master", g.Master).
			Msg("Lighting group configured")
	}
}
