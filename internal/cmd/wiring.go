package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shineum/certmail-lite/internal/config"
	"github.com/shineum/certmail-lite/internal/dispatch"
	"github.com/shineum/certmail-lite/internal/export"
	"github.com/shineum/certmail-lite/internal/fonts"
	"github.com/shineum/certmail-lite/internal/merge"
	"github.com/shineum/certmail-lite/internal/metrics"
	"github.com/shineum/certmail-lite/internal/provider"
	"github.com/shineum/certmail-lite/internal/relay"
	"github.com/shineum/certmail-lite/internal/render"
)

// newRenderer builds the configured compositor with the built-in fonts
// plus every font in FONTS_DIR.
func newRenderer(cfg *config.Config) (*render.Compositor, error) {
	reg, err := fonts.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.Render.FontsDir != "" {
		names, err := reg.LoadDir(cfg.Render.FontsDir)
		if err != nil {
			return nil, err
		}
		logger.Info("fonts loaded", "dir", cfg.Render.FontsDir, "families", names)
	}
	return render.New(cfg.Render.Renderer, reg)
}

// newRelay builds the mail transport over the selected provider.
func newRelay(ctx context.Context, cfg *config.Config, rec *metrics.Recorder) (*relay.Relay, provider.Provider, error) {
	p, err := selectProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	r := relay.New(p, relay.Options{
		Defaults: relay.Defaults{
			Sender:   defaultSender(cfg, p),
			Password: cfg.Mail.Password,
		},
		Markdown: cfg.Mail.Markdown,
		Metrics:  rec,
		Logger:   logger,
	})
	return r, p, nil
}

// newExporter returns the S3 exporter when a bucket is configured and
// the directory exporter otherwise. dir overrides EXPORT_DIR.
func newExporter(cfg *config.Config, dir string) (export.Exporter, error) {
	if dir == "" && cfg.S3Configured() {
		return export.NewS3(export.S3Config{
			Endpoint:  cfg.Export.S3.Endpoint,
			Bucket:    cfg.Export.S3.Bucket,
			Prefix:    cfg.Export.S3.Prefix,
			Region:    cfg.Export.S3.Region,
			AccessKey: cfg.Export.S3.AccessKey,
			SecretKey: cfg.Export.S3.SecretKey,
			Secure:    cfg.Export.S3.Secure,
		}, logger)
	}
	if dir == "" {
		dir = cfg.Export.Dir
	}
	return export.NewDir(dir)
}

// newDriver builds a batch driver for the CLI. With MAIL_ENDPOINT set,
// messages go to a remote transport over HTTP; otherwise they go
// through an in-process relay.
func newDriver(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, progress func(merge.Outcome)) (*merge.Driver, error) {
	renderer, err := newRenderer(cfg)
	if err != nil {
		return nil, err
	}

	opts := merge.Options{
		DefaultSender: merge.Sender{Address: cfg.Mail.User, Password: cfg.Mail.Password},
		Progress:      progress,
	}

	var client dispatch.Client
	if cfg.Batch.Endpoint != "" {
		logger.Info("dispatching to remote mail transport", "endpoint", cfg.Batch.Endpoint)
		client = dispatch.NewHTTP(cfg.Batch.Endpoint, &http.Client{})
	} else {
		r, p, err := newRelay(ctx, cfg, rec)
		if err != nil {
			return nil, err
		}
		opts.DefaultSender.Address = defaultSender(cfg, p)
		opts.PasswordOptional = !provider.NeedsSenderCredentials(p)
		client = dispatch.NewLocal(r)
	}
	return buildDriver(cfg, renderer, client, rec, opts)
}

// buildDriver completes opts from configuration and creates the driver.
func buildDriver(cfg *config.Config, renderer render.Renderer, client dispatch.Client, rec *metrics.Recorder, opts merge.Options) (*merge.Driver, error) {
	opts.SendTimeout = cfg.Batch.SendTimeout
	opts.Metrics = rec
	opts.Logger = logger

	if cfg.Export.Archive {
		archive, err := newExporter(cfg, "")
		if err != nil {
			return nil, fmt.Errorf("failed to set up archive: %w", err)
		}
		opts.Archive = archive
	}
	return merge.NewDriver(renderer, client, opts), nil
}

// newMetrics returns a recorder on a fresh registry that also carries
// the Go and process collectors.
func newMetrics() (*metrics.Recorder, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}
