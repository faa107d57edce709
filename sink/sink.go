// Package sink is the output stage of a log pipeline: it picks a free object key for every
// chunk and uploads the chunk under it.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bitrise-io/go-objectsink/chunk"
	"github.com/bitrise-io/go-objectsink/chunkstate"
	"github.com/bitrise-io/go-objectsink/compression"
	"github.com/bitrise-io/go-objectsink/config"
	"github.com/bitrise-io/go-objectsink/keytemplate"
	"github.com/bitrise-io/go-objectsink/metrics"
	"github.com/bitrise-io/go-objectsink/resolver"
	"github.com/bitrise-io/go-objectsink/storage"
	"github.com/bitrise-io/go-objectsink/transfer"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

// ConfigError is returned by New for settings that can never produce a valid upload.
type ConfigError = config.Error

// Options are the optional collaborators of an Output.
type Options struct {
	// Commands runs external compressors. Defaults to a factory over the process environment.
	Commands command.Factory
	// State is shared between outputs writing the same chunks. Defaults to a new table.
	State   *chunkstate.Table
	Metrics *metrics.Metrics
	// TempDir holds staging files. Defaults to a new temporary directory, removed by Close.
	TempDir  string
	Hostname func() (string, error)
	NewUUID  func() (uuid.UUID, error)
}

// Output uploads chunks to one container.
type Output struct {
	cfg      config.Config
	client   storage.Client
	logger   log.Logger
	metrics  *metrics.Metrics
	template keytemplate.Template
	index    keytemplate.IndexFormat
	location *time.Location
	codec    compression.Codec
	state    *chunkstate.Table
	resolver *resolver.Resolver
	transfer transfer.Transaction
	newUUID  func() (uuid.UUID, error)
	tempDir  string
	ownsTemp bool
}

// New validates the configuration and prepares the key template. Every problem that
// would make all uploads fail is reported here as a *ConfigError.
func New(cfg config.Config, client storage.Client, logger log.Logger, opts Options) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := keytemplate.Parse(cfg.KeyFormat)
	if err != nil {
		return nil, &ConfigError{Param: "key_format", Err: err}
	}
	index, err := keytemplate.ParseIndexFormat(cfg.IndexFormat)
	if err != nil {
		return nil, &ConfigError{Param: "index_format", Err: err}
	}
	location, err := cfg.Location()
	if err != nil {
		return nil, &ConfigError{Param: "timezone", Err: err}
	}

	if opts.Commands == nil {
		opts.Commands = command.NewFactory(env.NewRepository())
	}
	codec, err := newCodec(compression.Mode(cfg.StoreAs), opts.Commands, logger)
	if err != nil {
		return nil, &ConfigError{Param: "store_as", Err: err}
	}

	if opts.NewUUID == nil {
		opts.NewUUID = uuid.NewRandom
	}
	if tmpl.Has(keytemplate.UUIDFlush) {
		if _, err := opts.NewUUID(); err != nil {
			return nil, &ConfigError{Param: "key_format", Err: fmt.Errorf("%s requires a random UUID generator: %w", keytemplate.Token(keytemplate.UUIDFlush), err)}
		}
	}

	static := keytemplate.Values{
		keytemplate.Token(keytemplate.Path):          cfg.Path,
		keytemplate.Token(keytemplate.FileExtension): codec.Extension,
	}
	if tmpl.Has(keytemplate.Hostname) {
		logger.Warnf("%s placeholder is deprecated and will be removed in a future version, write the host name into the key format instead", keytemplate.Token(keytemplate.Hostname))
		if opts.Hostname == nil {
			opts.Hostname = os.Hostname
		}
		host, err := opts.Hostname()
		if err != nil {
			return nil, &ConfigError{Param: "key_format", Err: fmt.Errorf("resolve host name: %w", err)}
		}
		static[keytemplate.Token(keytemplate.Hostname)] = host
	}
	if unknown := tmpl.UnknownPlaceholders(); len(unknown) > 0 {
		logger.Warnf("Unknown placeholders in key format are kept as is: %v", unknown)
	}
	if !tmpl.HasAttemptPlaceholder() && !cfg.Overwrite {
		logger.Warnf("Key format has no %s placeholder, a second chunk in the same time slice will fail", keytemplate.Token(keytemplate.Index))
	}

	ownsTemp := false
	if opts.TempDir == "" {
		dir, err := pathutil.NewPathProvider().CreateTempDir("objectsink")
		if err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
		opts.TempDir = dir
		ownsTemp = true
	}

	if opts.State == nil {
		opts.State = chunkstate.New()
	}

	return &Output{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		metrics:  opts.Metrics,
		template: tmpl.Expand(static),
		index:    index,
		location: location,
		codec:    codec,
		state:    opts.State,
		resolver: resolver.New(cfg.Overwrite, logger),
		transfer: transfer.Transaction{
			Client:    client,
			Container: cfg.Container,
			Codec:     codec,
			State:     opts.State,
			TempDir:   opts.TempDir,
			Logger:    logger,
		},
		newUUID:  opts.NewUUID,
		tempDir:  opts.TempDir,
		ownsTemp: ownsTemp,
	}, nil
}

func newCodec(mode compression.Mode, commands command.Factory, logger log.Logger) (compression.Codec, error) {
	if mode != compression.LZO {
		return compression.NewCodec(mode, nil)
	}
	if err := compression.NewDependencyChecker(logger, commands).CheckLzop(); err != nil {
		return compression.Codec{}, err
	}
	return compression.NewCodec(mode, compression.NewLzop(logger, commands))
}

// Start makes sure the container exists.
func (o *Output) Start(ctx context.Context) error {
	result, err := storage.EnsureContainer(ctx, o.client, o.cfg.Container, o.cfg.AutoCreateContainer, o.logger)
	if err != nil {
		return err
	}
	if result == storage.ContainerCreated {
		o.logger.Donef("Container %s created", o.cfg.Container)
	}
	return nil
}

// Close removes the staging directory created by New.
func (o *Output) Close() error {
	if !o.ownsTemp {
		return nil
	}
	if err := os.RemoveAll(o.tempDir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// Write resolves a free key for the chunk and uploads it. On failure the caller is
// expected to retry the same chunk.
func (o *Output) Write(ctx context.Context, c chunk.Chunk) (transfer.Result, error) {
	start := time.Now()

	prepared := o.prepare(c.Metadata())
	values, valuesErr := o.attemptValues(c.UniqueID())
	exists := func(ctx context.Context, key string) (bool, error) {
		if err := valuesErr(); err != nil {
			return false, err
		}
		return o.client.Exists(ctx, o.cfg.Container, key)
	}

	resolution, err := o.resolver.Resolve(ctx, prepared, values, exists)
	if err != nil {
		o.metrics.Failed(failureReason(err))
		return transfer.Result{}, fmt.Errorf("resolve object key: %w", err)
	}
	o.metrics.Resolved(resolution.Attempts, resolution.State == resolver.Overwriting)

	result, err := o.transfer.Upload(ctx, c, resolution.Key)
	if err != nil {
		o.metrics.Failed(failureReason(err))
		return transfer.Result{}, fmt.Errorf("upload %s: %w", resolution.Key, err)
	}

	took := time.Since(start)
	o.metrics.Uploaded(string(o.codec.Mode), result.Size, took)
	o.logger.Donef("Stored %s/%s (%s) in %s", o.cfg.Container, result.Key, units.HumanSizeWithPrecision(float64(result.Size), 3), took.Round(time.Millisecond))

	return result, nil
}

// prepare renders everything derived from the chunk metadata.
func (o *Output) prepare(meta chunk.Metadata) keytemplate.Template {
	tmpl := o.template.ExpandChunkKeys(meta.Tag, meta.Variables)

	if meta.TimeKey == nil {
		return tmpl.Expand(keytemplate.Values{keytemplate.Token(keytemplate.TimeSlice): ""})
	}

	ts := meta.TimeKey.In(o.location)
	return tmpl.
		Expand(keytemplate.Values{keytemplate.Token(keytemplate.TimeSlice): keytemplate.FormatTimeSlice(ts, o.cfg.Timekey)}).
		FormatTime(ts)
}

// attemptValues returns the per attempt placeholder values of a chunk, and a function
// reporting the first value generation failure.
func (o *Output) attemptValues(chunkID []byte) (resolver.AttemptValues, func() error) {
	hexRandom := o.template.Has(keytemplate.HexRandom)
	uuidFlush := o.template.Has(keytemplate.UUIDFlush)
	var genErr error

	values := func(i int) keytemplate.Values {
		v := keytemplate.Values{keytemplate.Token(keytemplate.Index): o.index.Format(i)}
		if hexRandom {
			v[keytemplate.Token(keytemplate.HexRandom)] = o.state.GetOrCreate(chunkID, o.cfg.HexRandomLength)
		}
		if uuidFlush {
			id, err := o.newUUID()
			if err != nil && genErr == nil {
				genErr = fmt.Errorf("generate uuid: %w", err)
			}
			v[keytemplate.Token(keytemplate.UUIDFlush)] = id.String()
		}
		return v
	}
	return values, func() error { return genErr }
}

func failureReason(err error) string {
	var cfgErr *ConfigError
	var transportErr *storage.TransportError
	switch {
	case errors.As(err, &cfgErr):
		return metrics.ReasonConfig
	case errors.Is(err, resolver.ErrDuplicatePath):
		return metrics.ReasonDuplicatePath
	case errors.As(err, &transportErr):
		return metrics.ReasonTransport
	default:
		return metrics.ReasonStaging
	}
}
