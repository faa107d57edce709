// objectsink uploads log files to object storage, one object per file, under keys
// rendered from a key format.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-objectsink/chunk"
	"github.com/bitrise-io/go-objectsink/chunkstate"
	"github.com/bitrise-io/go-objectsink/config"
	"github.com/bitrise-io/go-objectsink/metrics"
	"github.com/bitrise-io/go-objectsink/resolver"
	"github.com/bitrise-io/go-objectsink/sink"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

type flags struct {
	configPath  string
	container   string
	keyFormat   string
	storeAs     string
	overwrite   bool
	tag         string
	retries     uint
	retryWait   time.Duration
	metricsFile string
	verbose     bool
}

func main() {
	logger := log.NewLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], logger); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Errorf("%s", err)
		cancel()
		os.Exit(1)
	}
}

func parseFlags(args []string) (flags, *pflag.FlagSet, error) {
	var f flags
	flagSet := pflag.NewFlagSet("objectsink", pflag.ContinueOnError)
	flagSet.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	flagSet.StringVar(&f.container, "container", "", "container (bucket) to upload to")
	flagSet.StringVar(&f.keyFormat, "key-format", "", "object key format, e.g. %{path}/%H%M_%{index}.%{file_extension}")
	flagSet.StringVar(&f.storeAs, "store-as", "", "archive format: gzip, lzo, json, text, zstd or lz4")
	flagSet.BoolVar(&f.overwrite, "overwrite", false, "overwrite an existing object when the key can not be differentiated")
	flagSet.StringVar(&f.tag, "tag", "", "tag of the uploaded chunks, for ${tag} placeholders")
	flagSet.UintVar(&f.retries, "retries", 3, "number of retries of a failed upload")
	flagSet.DurationVar(&f.retryWait, "retry-wait", 5*time.Second, "wait between upload retries")
	flagSet.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile collector file")
	flagSet.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logs")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: objectsink [flags] <path or glob>...\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return flags{}, nil, err
	}
	return f, flagSet, nil
}

// applyFlags overrides the loaded configuration with the flags given on the command line.
func applyFlags(cfg *config.Config, f flags, flagSet *pflag.FlagSet) {
	if flagSet.Changed("container") {
		cfg.Container = f.container
	}
	if flagSet.Changed("key-format") {
		cfg.KeyFormat = f.keyFormat
	}
	if flagSet.Changed("store-as") {
		cfg.StoreAs = f.storeAs
	}
	if flagSet.Changed("overwrite") {
		cfg.Overwrite = f.overwrite
	}
}

func run(ctx context.Context, args []string, logger log.Logger) error {
	f, flagSet, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger.EnableDebugLog(f.verbose)

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return fmt.Errorf("no input files")
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	applyFlags(&cfg, f, flagSet)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	paths, err := expandPaths(flagSet.Args(), logger)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files match %v", flagSet.Args())
	}

	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	out, err := sink.New(cfg, client, logger, sink.Options{State: chunkstate.New(), Metrics: m})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Debugf("%s", err)
		}
	}()

	if err := out.Start(ctx); err != nil {
		return err
	}

	failed := 0
	for _, path := range paths {
		c, err := newFileChunk(path, cfg.Timekey, f.tag)
		if err != nil {
			logger.Errorf("%s", err)
			failed++
			continue
		}

		logger.Println()
		logger.Infof("Uploading %s", path)
		if err := writeWithRetry(ctx, out, c, f.retries, f.retryWait, logger); err != nil {
			logger.Errorf("Failed to upload %s: %s", path, err)
			failed++
		}
	}

	if f.metricsFile != "" {
		if err := metrics.WriteTextfile(f.metricsFile, registry); err != nil {
			logger.Warnf("%s", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to upload", failed, len(paths))
	}
	logger.Donef("%d files uploaded", len(paths))
	return nil
}

// writeWithRetry retries the whole write of a chunk. Configuration and duplicate key
// errors are not retried, they would fail the same way again.
func writeWithRetry(ctx context.Context, out *sink.Output, c chunk.File, retries uint, wait time.Duration, logger log.Logger) error {
	return retry.Times(retries).Wait(wait).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			logger.Warnf("%d. attempt to upload %s", attempt+1, c.Path)
		}
		_, err := out.Write(ctx, c)
		if err != nil {
			return err, isPermanent(ctx, err)
		}
		return nil, false
	})
}

func isPermanent(ctx context.Context, err error) bool {
	var cfgErr *sink.ConfigError
	return errors.As(err, &cfgErr) || errors.Is(err, resolver.ErrDuplicatePath) || ctx.Err() != nil
}
