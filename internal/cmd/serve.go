package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/certmail-lite/internal/api"
	"github.com/shineum/certmail-lite/internal/dispatch"
	"github.com/shineum/certmail-lite/internal/merge"
	"github.com/shineum/certmail-lite/internal/provider"
	certtls "github.com/shineum/certmail-lite/internal/tls"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mail transport and the HTTP API",
	Long: `Serve exposes POST /api/mail (the mail transport), POST /api/preview,
POST /api/batch, GET /healthz and GET /metrics.

Messages are sent through the provider selected by PROVIDER, with
MAIL_USER and MAIL_PASSWORD as the default sender credentials.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rec, reg := newMetrics()

	mailer, p, err := newRelay(ctx, cfg, rec)
	if err != nil {
		return err
	}
	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}
	driver, err := buildDriver(cfg, renderer, dispatch.NewLocal(mailer), rec, merge.Options{
		DefaultSender:    merge.Sender{Address: defaultSender(cfg, p), Password: cfg.Mail.Password},
		PasswordOptional: !provider.NeedsSenderCredentials(p),
	})
	if err != nil {
		return err
	}

	host, _, _ := net.SplitHostPort(cfg.Server.Listen)
	tlsConfig, err := certtls.ServerConfig(certtls.Options{
		CertFile:   cfg.Server.TLS.CertFile,
		KeyFile:    cfg.Server.TLS.KeyFile,
		SelfSigned: cfg.Server.TLS.SelfSigned,
		Hosts:      []string{host},
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.NewRouter(api.Options{
			Mailer:   mailer,
			Renderer: renderer,
			Driver:   driver,
			Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Logger:   logger,
		}),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	tlsMode := "off"
	switch {
	case cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "":
		tlsMode = "file"
	case cfg.Server.TLS.SelfSigned:
		tlsMode = "self-signed"
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return err
	}

	logger.Info("starting certmail",
		"listen", ln.Addr().String(),
		"provider", mailer.Provider(),
		"renderer", renderer.Kind(),
		"tls_mode", tlsMode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tlsConfig != nil {
			err = server.ServeTLS(ln, "", "")
		} else {
			err = server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("certmail stopped")
	return nil
}
