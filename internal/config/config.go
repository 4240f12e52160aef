// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for certmail.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	Server   ServerConfig  `yaml:"server"`
	Mail     MailConfig    `yaml:"mail"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	Resend   ResendConfig  `yaml:"resend"`
	Render   RenderConfig  `yaml:"render"`
	Batch    BatchConfig   `yaml:"batch"`
	Export   ExportConfig  `yaml:"export"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Listen string    `yaml:"listen"`
	TLS    TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate file paths. SelfSigned serves HTTPS
// with a generated certificate when no files are given.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	SelfSigned bool   `yaml:"self_signed"`
}

// MailConfig holds the default sender and transport behaviour.
type MailConfig struct {
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Markdown   bool   `yaml:"markdown"`
	MaxRetries int    `yaml:"max_retries"`
}

// SMTPConfig holds the upstream SMTP submission server.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	StartTLS bool   `yaml:"starttls"`
	Auth     string `yaml:"auth"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// RenderConfig selects the renderer and extra fonts.
type RenderConfig struct {
	Renderer string `yaml:"renderer"`
	FontsDir string `yaml:"fonts_dir"`
}

// BatchConfig holds batch driver settings. An empty Endpoint sends
// in-process through the configured provider.
type BatchConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// ExportConfig holds where rendered images are written.
type ExportConfig struct {
	Dir     string   `yaml:"dir"`
	Archive bool     `yaml:"archive"`
	S3      S3Config `yaml:"s3"`
}

// S3Config holds an S3-compatible export bucket.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// S3Configured returns true if an S3 export bucket is set.
func (c *Config) S3Configured() bool {
	return c.Export.S3.Endpoint != "" && c.Export.S3.Bucket != ""
}

// TLSEnabled returns true if the HTTP server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLS.SelfSigned || (c.Server.TLS.CertFile != "" && c.Server.TLS.KeyFile != "")
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Server.Listen = ":8080"
	c.SMTP.Host = "smtp.gmail.com"
	c.SMTP.Port = 587
	c.SMTP.StartTLS = true
	c.SMTP.Auth = "plain"
	c.Render.Renderer = "canvas"
	c.Batch.SendTimeout = 2 * time.Minute
	c.Export.Dir = "exports"
	c.Export.S3.Region = "us-east-1"
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; a
// malformed number, boolean or duration is an error.
func (c *Config) applyEnvVars() error {
	var p envParser

	p.str("PROVIDER", &c.Provider)
	if c.Provider != "" {
		c.Provider = strings.ToLower(c.Provider)
	}

	p.str("SERVER_LISTEN", &c.Server.Listen)
	p.str("TLS_CERT_FILE", &c.Server.TLS.CertFile)
	p.str("TLS_KEY_FILE", &c.Server.TLS.KeyFile)
	p.boolean("TLS_SELF_SIGNED", &c.Server.TLS.SelfSigned)

	p.str("MAIL_USER", &c.Mail.User)
	p.str("MAIL_PASSWORD", &c.Mail.Password)
	p.boolean("MAIL_MARKDOWN", &c.Mail.Markdown)
	p.integer("MAIL_MAX_RETRIES", &c.Mail.MaxRetries)

	p.str("SMTP_HOST", &c.SMTP.Host)
	p.integer("SMTP_PORT", &c.SMTP.Port)
	p.boolean("SMTP_STARTTLS", &c.SMTP.StartTLS)
	p.str("SMTP_AUTH", &c.SMTP.Auth)

	p.str("SES_REGION", &c.SES.Region)
	p.str("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	p.str("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	p.str("SES_SENDER", &c.SES.Sender)

	p.str("GRAPH_TENANT_ID", &c.Graph.TenantID)
	p.str("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	p.str("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	p.str("GRAPH_SENDER", &c.Graph.Sender)

	p.str("RESEND_API_KEY", &c.Resend.APIKey)

	p.str("RENDERER", &c.Render.Renderer)
	p.str("FONTS_DIR", &c.Render.FontsDir)

	p.str("MAIL_ENDPOINT", &c.Batch.Endpoint)
	p.duration("SEND_TIMEOUT", &c.Batch.SendTimeout)

	p.str("EXPORT_DIR", &c.Export.Dir)
	p.boolean("EXPORT_ARCHIVE", &c.Export.Archive)
	p.str("EXPORT_S3_ENDPOINT", &c.Export.S3.Endpoint)
	p.str("EXPORT_S3_ACCESS_KEY", &c.Export.S3.AccessKey)
	p.str("EXPORT_S3_SECRET_KEY", &c.Export.S3.SecretKey)
	p.str("EXPORT_S3_BUCKET", &c.Export.S3.Bucket)
	p.boolean("EXPORT_S3_SECURE", &c.Export.S3.Secure)

	p.str("LOG_LEVEL", &c.Logging.Level)
	p.str("LOG_FORMAT", &c.Logging.Format)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)

	return p.err
}

// envParser reads typed environment variables, keeping the first error.
type envParser struct {
	err error
}

func (p *envParser) str(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (p *envParser) boolean(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = b
}

func (p *envParser) integer(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = n
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = d
}

func (p *envParser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}
