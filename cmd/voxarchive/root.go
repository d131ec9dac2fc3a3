package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxarchive/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type appState struct {
	overrides  config.Overrides
	noProgress bool
	jsonOutput bool

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	app := &appState{}

	cmd := &cobra.Command{
		Use:           "voxarchive",
		Short:         "Transcribe and cache archived voice messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(app.overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app.cfg = cfg
			// serve logs JSON to stdout; the one-shot commands keep stdout
			// for results.
			app.log = newLogger(cfg.LogLevel, cmd.Name() != "serve")
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&app.overrides.EnvFile, "env-file", "", "Path to .env file (default .env)")
	f.StringVar(&app.overrides.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&app.overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	f.StringVar(&app.overrides.AudioDir, "audio-dir", "", "Directory holding materialized voice files")
	f.StringVar(&app.overrides.Backend, "backend", "", "Transcription backend: remote|local")
	f.BoolVar(&app.noProgress, "no-progress", false, "Disable progress indicators")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newRegenerateCmd(app))
	cmd.AddCommand(newBatchCmd(app))
	return cmd
}

// newLogger builds the root logger. On a terminal the one-shot commands get
// human-readable output on stderr.
func newLogger(levelName string, toStderr bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if toStderr {
		w = os.Stderr
		if term.IsTerminal(int(os.Stderr.Fd())) {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
