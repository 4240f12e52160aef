// Package smtp implements a Provider that submits messages to an SMTP
// submission server (Gmail by default), logging in as the sender.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/certmail-lite/internal/email"
)

// Supported AUTH mechanisms.
const (
	AuthPlain = "plain"
	AuthLogin = "login"
	AuthNone  = "none"
)

// Config holds the configuration for creating an SMTP Provider.
type Config struct {
	Host     string
	Port     int
	StartTLS bool
	Auth     string

	// Timeout bounds dialing and the whole SMTP conversation when the
	// caller's context has no deadline. Zero means no limit.
	Timeout time.Duration

	// InsecureSkipVerify disables certificate checks (test relays only).
	InsecureSkipVerify bool
}

// Provider sends email through an SMTP submission server.
type Provider struct {
	cfg  Config
	addr string
}

// New creates an SMTP Provider. Port 465 uses implicit TLS; any other
// port starts in plaintext and upgrades with STARTTLS when configured.
func New(cfg Config) (*Provider, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	switch strings.ToLower(cfg.Auth) {
	case "":
		cfg.Auth = AuthPlain
	case AuthPlain, AuthLogin, AuthNone:
		cfg.Auth = strings.ToLower(cfg.Auth)
	default:
		return nil, fmt.Errorf("unsupported smtp auth mechanism %q", cfg.Auth)
	}

	return &Provider{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// UsesSenderCredentials reports whether the sender's password is needed
// to log in to the submission server.
func (p *Provider) UsesSenderCredentials() bool {
	return p.cfg.Auth != AuthNone
}

// Send delivers msg in a single SMTP transaction. SMTP does not report a
// queue id through net/smtp, so the message's own Message-ID is returned.
func (p *Provider) Send(ctx context.Context, msg *email.Email) (string, error) {
	if msg.From == "" {
		return "", errors.New("no from address specified")
	}
	recipients := msg.To
	if len(recipients) == 0 {
		return "", errors.New("no recipients specified")
	}

	raw, err := email.BuildMIME(msg.From, msg)
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	if p.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
		}
	}

	client, err := p.dial(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if p.cfg.StartTLS && p.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return "", errors.New("smtp server does not support STARTTLS")
		}
		if err := client.StartTLS(p.tlsConfig()); err != nil {
			return "", fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if auth := p.auth(msg); auth != nil {
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return "", fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return "", fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("message rejected: %w", err)
	}

	if err := client.Quit(); err != nil {
		slog.Debug("smtp quit failed", "error", err)
	}
	return msg.MessageID, nil
}

// dial opens the connection and reads the server greeting.
func (p *Provider) dial(ctx context.Context) (*smtp.Client, error) {
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.Port == 465 {
		d := &tls.Dialer{Config: p.tlsConfig()}
		conn, err = d.DialContext(ctx, "tcp", p.addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", p.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read SMTP greeting: %w", err)
	}
	return client, nil
}

func (p *Provider) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify, // #nosec G402 -- controlled by config
		MinVersion:         tls.VersionTLS12,
	}
}

// auth picks the SMTP AUTH mechanism, logging in as the message sender.
func (p *Provider) auth(msg *email.Email) smtp.Auth {
	if p.cfg.Auth == AuthNone {
		return nil
	}
	username, password := msg.From, ""
	if msg.Credentials != nil {
		if msg.Credentials.Username != "" {
			username = msg.Credentials.Username
		}
		password = msg.Credentials.Password
	}
	if p.cfg.Auth == AuthLogin {
		return &loginAuth{username: username, password: password, host: p.cfg.Host}
	}
	return smtp.PlainAuth("", username, password, p.cfg.Host)
}
