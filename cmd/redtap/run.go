package main

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/internal/pipeline"
	"github.com/ajitpratap0/redtap/pkg/catalog"
	"github.com/ajitpratap0/redtap/pkg/compression"
	"github.com/ajitpratap0/redtap/pkg/config"
	"github.com/ajitpratap0/redtap/pkg/connector/shared/awscfg"
	"github.com/ajitpratap0/redtap/pkg/connector/shared/s3"
	"github.com/ajitpratap0/redtap/pkg/connector/sources/redshift"
	"github.com/ajitpratap0/redtap/pkg/extract"
	"github.com/ajitpratap0/redtap/pkg/extract/direct"
	"github.com/ajitpratap0/redtap/pkg/extract/unload"
	"github.com/ajitpratap0/redtap/pkg/logger"
	"github.com/ajitpratap0/redtap/pkg/metrics"
	"github.com/ajitpratap0/redtap/pkg/observability"
	"github.com/ajitpratap0/redtap/pkg/schema"
	"github.com/ajitpratap0/redtap/pkg/sink"
	"github.com/ajitpratap0/redtap/pkg/state"
)

type syncOptions struct {
	configPath  string
	catalogPath string
	statePath   string
}

// environment is what both commands need once configuration is loaded.
type environment struct {
	cfg    *config.Config
	logger *zap.Logger
	// aws is nil unless IAM authentication or S3 staging needs it
	aws     *aws.Config
	closers []func()
}

func (e *environment) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// setup loads configuration and starts logging, tracing and the metrics
// endpoint. Logs go to stderr; stdout carries the message stream.
func setup(ctx context.Context, configPath string) (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogFormat,
		OutputPaths: []string{"stderr"},
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	env := &environment{
		cfg:    cfg,
		logger: logger.Get().With(zap.String("component", "redtap-cli")),
	}
	env.closers = append(env.closers, func() { _ = logger.Sync() })

	shutdown, err := observability.Init(observability.TracingConfig{
		Enabled:        cfg.Observability.Tracing,
		ServiceName:    "redtap",
		ServiceVersion: version,
	})
	if err != nil {
		env.close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	env.closers = append(env.closers, func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			env.logger.Warn("failed to flush traces", zap.Error(err))
		}
	})

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv, err := metrics.Serve(addr)
		if err != nil {
			env.close()
			return nil, fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
		env.logger.Info("serving metrics", zap.String("addr", srv.Addr()))
		env.closers = append(env.closers, func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) })
	}

	if cfg.Auth.AuthMethod() == config.AuthIAM || cfg.Staging.Configured() {
		awsCfg, err := awscfg.Load(ctx, cfg.Auth.AWS)
		if err != nil {
			env.close()
			return nil, err
		}
		env.aws = &awsCfg
	}
	return env, nil
}

func (e *environment) connect(ctx context.Context) (*redshift.Client, error) {
	resolver := redshift.NewCredentialResolver(e.cfg.Auth, e.cfg.Connection.Database, e.aws)
	client, err := redshift.Connect(ctx, e.cfg, resolver, e.logger)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, client.Close)
	return client, nil
}

func (e *environment) converter() *schema.Converter {
	return schema.NewConverter(schema.Options{
		DatesAsString: e.cfg.SchemaConversion.DatesAsString,
		SuperAsObject: e.cfg.SchemaConversion.SuperAsObject,
	})
}

func runDiscover(ctx context.Context, configPath string, stdout io.Writer) error {
	env, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer env.close()

	client, err := env.connect(ctx)
	if err != nil {
		return err
	}
	cat, err := client.Discover(ctx, env.cfg.Connection.Schemas, env.converter())
	if err != nil {
		return err
	}
	return cat.Write(stdout)
}

func runSync(ctx context.Context, opts syncOptions, stdout io.Writer) error {
	env, err := setup(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer env.close()
	cfg, l := env.cfg, env.logger

	cat, err := catalog.Load(opts.catalogPath)
	if err != nil {
		return err
	}
	streams := cat.Selected()
	if len(streams) == 0 {
		l.Warn("no streams selected", zap.String("catalog", opts.catalogPath))
	}

	var prior *state.State
	if opts.statePath != "" {
		if prior, err = state.Load(opts.statePath); err != nil {
			return err
		}
	}

	client, err := env.connect(ctx)
	if err != nil {
		return err
	}

	extractors := map[extract.Strategy]extract.Extractor{
		extract.Direct: direct.New(client, l),
	}
	if cfg.Staging.Configured() {
		bulk, err := newBulkExtractor(env, client)
		if err != nil {
			return err
		}
		extractors[extract.BulkExport] = bulk
	}

	out, err := openSink(cfg, stdout, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			l.Warn("failed to close output", zap.Error(err))
		}
	}()

	orch := pipeline.New(pipeline.Config{
		Parallelism:        cfg.Extraction.StreamParallelism,
		CheckpointInterval: cfg.Extraction.CheckpointInterval,
		FailFast:           cfg.Extraction.FailFast,
	}, env.converter(),
		extract.StaticSelector{Bucket: cfg.Staging.Bucket, Prefix: cfg.Staging.KeyPrefix},
		extractors, state.NewStore(prior), out, l)
	if cfg.Output.StateOutput != "" {
		orch.Persister = &state.FilePersister{Path: cfg.Output.StateOutput}
	}

	summary, err := orch.Run(ctx, streams)
	if err != nil {
		return err
	}
	if summary.AllFailed() {
		return &exitError{
			code: exitAllFailed,
			err:  fmt.Errorf("all %d selected streams failed", len(summary.Failed)+len(summary.Skipped)),
		}
	}
	return nil
}

func newBulkExtractor(env *environment, client *redshift.Client) (*unload.Extractor, error) {
	cfg := env.cfg
	alg, err := compression.ParseAlgorithm(cfg.Staging.Compression)
	if err != nil {
		return nil, err
	}
	settings := unload.Settings{
		Format:              unload.Format(cfg.Staging.Format),
		Compression:         alg,
		RoleARN:             cfg.Staging.RoleARN,
		Timeout:             cfg.Extraction.ExportTimeout,
		PollInitial:         cfg.Extraction.PollInitial,
		PollMax:             cfg.Extraction.PollMax,
		DownloadConcurrency: cfg.Extraction.DownloadConcurrency,
		CleanupTimeout:      cfg.Extraction.CleanupTimeout,
	}
	store := s3.NewStore(*env.aws, cfg.Extraction.DownloadConcurrency, env.logger)
	return unload.NewExtractor(cfg.Staging.Bucket, cfg.Staging.KeyPrefix, settings, store, client, env.logger), nil
}

func openSink(cfg *config.Config, stdout io.Writer, l *zap.Logger) (sink.Sink, error) {
	if cfg.Output.Kind == config.OutputKafka {
		return sink.NewKafkaSink(sink.KafkaConfig{
			Brokers:  cfg.Output.KafkaBrokers,
			Topic:    cfg.Output.KafkaTopic,
			ClientID: "redtap",
			Acks:     "all",
		}, l)
	}
	return sink.NewLineSink(stdout), nil
}
