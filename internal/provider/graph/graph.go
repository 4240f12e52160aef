package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/certmail-lite/internal/email"
)

// graphScope is the application permission scope for client credential grants.
const graphScope = "https://graph.microsoft.com/.default"

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string

	// MaxRetries bounds retries of throttled or transient failures.
	// The single token refresh after a 401 is not counted.
	MaxRetries int
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	sender     string
	graphURL   string
	maxRetries int
	httpClient *http.Client

	credentials *clientcredentials.Config
	tokenCtx    context.Context

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		cfg.TenantID,
	)
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", cfg.Sender)

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	g := &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		maxRetries: cfg.MaxRetries,
		httpClient: client,
		credentials: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		tokenCtx: context.WithValue(context.Background(), oauth2.HTTPClient, client),
	}
	g.tokens = g.credentials.TokenSource(g.tokenCtx)
	return g
}

// Send delivers an email message via the Microsoft Graph API.
// Graph accepts sendMail without returning an id, so the locally
// assigned Message-ID is reported back.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) (string, error) {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	retries := 0
	tokenRefreshed := false

	for {
		err := g.doSendRequest(ctx, bodyJSON)
		if err == nil {
			return msg.MessageID, nil
		}

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return "", err
		}

		switch {
		case graphErr.permanent:
			return "", graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			g.resetTokens()
			tokenRefreshed = true
			continue
		case retries >= g.maxRetries:
			if g.maxRetries == 0 {
				return "", graphErr
			}
			return "", fmt.Errorf("Graph API request failed after %d retries: %w", g.maxRetries, graphErr)
		}

		retries++
		delay := backoffDelay(retries)
		if graphErr.statusCode == http.StatusTooManyRequests {
			delay = retryAfterDelay(graphErr.retryAfter, retries)
			slog.Info("rate limited by Graph API", "retry_after", delay)
		} else {
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"attempt", retries,
				"delay", delay,
			)
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return "", fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// token returns a cached access token, fetching a new one when expired.
func (g *GraphProvider) token() (*oauth2.Token, error) {
	g.mu.Lock()
	src := g.tokens
	g.mu.Unlock()
	return src.Token()
}

// resetTokens drops the cached token so the next request fetches a new one.
func (g *GraphProvider) resetTokens() {
	g.mu.Lock()
	g.tokens = g.credentials.TokenSource(g.tokenCtx)
	g.mu.Unlock()
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	tok, err := g.token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("graph request aborted: %w", ctx.Err())
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError represents an error from the Graph API send operation with
// classification for retry logic.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses the Retry-After header value and returns the appropriate delay.
// Falls back to exponential backoff if the header is missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
