package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/always-cache/dejavu"
	"github.com/always-cache/dejavu/cache"
	"github.com/always-cache/dejavu/config"
	"github.com/always-cache/dejavu/core"
	"github.com/always-cache/dejavu/middleware"
	"github.com/always-cache/dejavu/token"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// this is set by goreleaser
var version string

type globalFlags struct {
	configFilename string
	verbose        bool
	trace          bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	if version == "" {
		version = "DEV"
	}
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "dejavu",
		Short:         "Caching reverse proxy and cache administration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFilename, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Verbosity: debug logging")
	cmd.PersistentFlags().BoolVar(&flags.trace, "trace", false, "Verbosity: trace logging")

	cmd.AddCommand(
		serveCmd(&flags),
		lsCmd(&flags),
		statsCmd(&flags),
		clearCmd(&flags),
		invalidateCmd(&flags),
	)
	return cmd
}

// newLogger logs to the console and, if set, to a log file.
func newLogger(flags *globalFlags, logFilename string) (zerolog.Logger, io.Closer, error) {
	logLevel := zerolog.InfoLevel
	if flags.verbose {
		logLevel = zerolog.DebugLevel
	}
	if flags.trace {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	var closer io.Closer = io.NopCloser(nil)
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
		closer = logFileOutput
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(logOutputs...)).
		Level(logLevel).
		With().Timestamp().Str("version", version).Logger()
	return logger, closer, nil
}

// env is what every command needs.
type env struct {
	config config.Config
	log    zerolog.Logger
	dejavu *dejavu.Dejavu
	closer io.Closer
}

func (e *env) Close() error {
	err := e.dejavu.Close()
	e.closer.Close()
	return err
}

// setup loads the configuration and opens the cache.
func setup(ctx context.Context, flags *globalFlags, observer core.Observer) (*env, error) {
	cfg, err := config.Load(flags.configFilename)
	if err != nil {
		return nil, err
	}
	logger, closer, err := newLogger(flags, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	key, err := cfg.Key()
	if err != nil {
		closer.Close()
		return nil, err
	}
	store, err := cache.Open(ctx, cfg.Store)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("could not open %s store: %w", cfg.Store.Kind, err)
	}
	d, err := dejavu.New(dejavu.Config{
		Store:                  store,
		EncryptionKey:          key,
		Logger:                 &logger,
		Observer:               observer,
		DefaultDurationSeconds: cfg.DefaultDurationSeconds,
		RequestTimeout:         cfg.RequestTimeout,
	})
	if err != nil {
		store.Close()
		closer.Close()
		return nil, err
	}
	logger.Debug().Str("store", cfg.Store.Kind).Bool("encrypted", key != nil).Msg("Cache opened")
	return &env{config: cfg, log: logger, dejavu: d, closer: closer}, nil
}

// storedRequest targets the entries of a proxied URL, or every entry if
// rawURL is empty.
func storedRequest(rawURL string) (token.RequestMetadata, bool) {
	if rawURL == "" {
		return token.RequestMetadata{ResponseType: token.AnyResponse}, false
	}
	return middleware.StoredRequest(rawURL), true
}
