package cmd

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/certmail-lite/internal/config"
	"github.com/shineum/certmail-lite/internal/provider"
	"github.com/shineum/certmail-lite/internal/provider/graph"
	"github.com/shineum/certmail-lite/internal/provider/resend"
	"github.com/shineum/certmail-lite/internal/provider/ses"
	"github.com/shineum/certmail-lite/internal/provider/smtp"
	"github.com/shineum/certmail-lite/internal/provider/stdout"
)

// selectProvider chooses the upstream delivery backend based on configuration.
// If PROVIDER is set, it takes precedence. Otherwise the first configured
// backend wins (Graph, SES, Resend, then SMTP when a default sender is
// set) and stdout is the fallback.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "smtp":
		return newSMTP(cfg)

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSES(ctx, cfg)

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		return newGraph(cfg), nil

	case "resend":
		if !cfg.ResendConfigured() {
			return nil, errors.New("Resend provider selected but RESEND_API_KEY is required")
		}
		return newResend(cfg), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		switch {
		case cfg.GraphConfigured():
			return newGraph(cfg), nil
		case cfg.SESConfigured():
			return newSES(ctx, cfg)
		case cfg.ResendConfigured():
			return newResend(cfg), nil
		case cfg.Mail.User != "":
			return newSMTP(cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q (expected smtp, ses, graph, resend or stdout)", cfg.Provider)
	}
}

func newSMTP(cfg *config.Config) (provider.Provider, error) {
	slog.Info("using SMTP provider",
		"host", cfg.SMTP.Host,
		"port", cfg.SMTP.Port,
		"auth", cfg.SMTP.Auth,
	)
	p, err := smtp.New(smtp.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		StartTLS: cfg.SMTP.StartTLS,
		Auth:     cfg.SMTP.Auth,
		Timeout:  cfg.Batch.SendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP provider: %w", err)
	}
	return p, nil
}

func newSES(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(ctx, ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
		MaxRetries:      cfg.Mail.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	return p, nil
}

func newGraph(cfg *config.Config) provider.Provider {
	slog.Info("using Microsoft Graph provider",
		"sender", cfg.Graph.Sender,
	)
	return graph.New(graph.GraphProviderConfig{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
		MaxRetries:   cfg.Mail.MaxRetries,
	})
}

func newResend(cfg *config.Config) provider.Provider {
	slog.Info("using Resend provider", "sender", cfg.Mail.User)
	return resend.New(resend.Config{
		APIKey: cfg.Resend.APIKey,
		Sender: cfg.Mail.User,
	})
}

// defaultSender is the sender address used when a message names none:
// MAIL_USER, else the selected provider's own sender.
func defaultSender(cfg *config.Config, p provider.Provider) string {
	switch p.(type) {
	case *ses.SESProvider:
		return cmp.Or(cfg.Mail.User, cfg.SES.Sender)
	case *graph.GraphProvider:
		return cmp.Or(cfg.Mail.User, cfg.Graph.Sender)
	}
	return cfg.Mail.User
}
