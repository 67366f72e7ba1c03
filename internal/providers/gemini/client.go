// Package gemini implements the API-key + HMAC login flow. There is no
// interactive step: every request is signed per call, so login only validates
// the key pair against the heartbeat endpoint.
package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/signer"
)

const (
	DefaultBaseURL = "https://api.gemini.com"
	SandboxBaseURL = "https://api.sandbox.gemini.com"

	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	// validationWindow is how long a validated key pair is trusted before the
	// next login revalidates it.
	validationWindow = 24 * time.Hour
)

// Client implements interfaces.Authenticator for Gemini.
type Client struct {
	baseURL    string
	sandboxURL string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	// One nonce counter per API key, alive for the credential's lifetime so
	// nonces stay strictly increasing across every signed request.
	mu     sync.Mutex
	nonces map[string]*signer.NonceCounter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the live base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithSandboxURL sets the sandbox base URL
func WithSandboxURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.sandboxURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Gemini login client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		sandboxURL: SandboxBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		nonces:  make(map[string]*signer.NonceCounter),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Provider identifies this authenticator.
func (c *Client) Provider() models.Provider {
	return models.ProviderGemini
}

// Login validates the key pair with a signed heartbeat call. A validated pair
// yields a tokenless session record good for the validation window.
func (c *Client) Login(ctx context.Context, cred models.Credential, opts interfaces.LoginOptions) (*models.SessionRecord, error) {
	if cred.APIKey == "" || cred.APISecret == "" {
		return nil, autherr.E(autherr.KindInvalidCredential, "API key and secret are required")
	}

	sig := signer.NewHMACSigner(cred.APIKey, cred.APISecret, c.nonce(cred.APIKey))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base(opts.Environment)+"/v1/heartbeat", nil)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindProtocolError, err, "failed to create heartbeat request")
	}
	if err := sig.Sign(req, nil); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "heartbeat failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusBadRequest:
		return nil, autherr.E(autherr.KindInvalidCredential, "key pair rejected: %s", errorReason(body))

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, autherr.E(autherr.KindRateLimited, "heartbeat throttled")

	case resp.StatusCode >= 500:
		return nil, autherr.E(autherr.KindTransientNetwork, "heartbeat failed with status %d", resp.StatusCode)

	default:
		return nil, autherr.E(autherr.KindProviderRejected, "heartbeat failed with status %d: %s", resp.StatusCode, errorReason(body))
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Result != "ok" {
		return nil, autherr.E(autherr.KindProtocolError, "unexpected heartbeat response: %s", string(body))
	}

	c.logger.Debug().Msg("Gemini key pair validated")
	return &models.SessionRecord{
		Provider:  models.ProviderGemini,
		ExpiresAt: time.Now().Add(validationWindow),
	}, nil
}

// Refresh is unsupported; key pairs are revalidated with a fresh login.
func (c *Client) Refresh(_ context.Context, _ *models.SessionRecord) (*models.SessionRecord, error) {
	return nil, interfaces.ErrRefreshUnsupported
}

// Signer returns the HMAC signer bound to the credential's nonce counter.
func (c *Client) Signer(_ *models.SessionRecord, cred models.Credential) (interfaces.RequestSigner, error) {
	if cred.APIKey == "" || cred.APISecret == "" {
		return nil, autherr.E(autherr.KindUnauthenticated, "no API key pair; authenticate first")
	}
	return signer.NewHMACSigner(cred.APIKey, cred.APISecret, c.nonce(cred.APIKey)), nil
}

// nonce returns the shared counter for an API key, creating it on first use.
func (c *Client) nonce(apiKey string) *signer.NonceCounter {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nonces[apiKey]
	if !ok {
		n = signer.NewNonceCounter()
		c.nonces[apiKey] = n
	}
	return n
}

func (c *Client) base(env models.Environment) string {
	if env == models.EnvSandbox {
		return c.sandboxURL
	}
	return c.baseURL
}

func errorReason(body []byte) string {
	var e struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Reason != "" {
			return e.Reason
		}
	}
	return string(body)
}

// Ensure Client implements Authenticator
var _ interfaces.Authenticator = (*Client)(nil)
