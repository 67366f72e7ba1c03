// Package tdameritrade implements the encrypted-passcode OAuth flow. The
// long-lived refresh token lives encrypted at rest in the session store,
// unlocked by the caller's passcode; a full login is a refresh-token exchange.
package tdameritrade

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/signer"
)

const (
	DefaultBaseURL   = "https://api.tdameritrade.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2 // requests per second

	// consumerKeySuffix is appended to the application key to form the OAuth
	// client_id the token endpoint expects.
	consumerKeySuffix = "@AMER.OAUTHAP"

	// fallbackLifetime applies when the response omits expires_in and the
	// access token carries no readable exp claim.
	fallbackLifetime = 30 * time.Minute
)

// Client implements interfaces.Authenticator for TD Ameritrade.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
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

// NewClient creates a new TD Ameritrade login client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Provider identifies this authenticator.
func (c *Client) Provider() models.Provider {
	return models.ProviderTDA
}

// Login exchanges the decrypted refresh token for a fresh access token. The
// session manager surfaces decryption failure upstream as an absent record,
// which lands here with no refresh token.
func (c *Client) Login(ctx context.Context, cred models.Credential, opts interfaces.LoginOptions) (*models.SessionRecord, error) {
	if cred.Passcode == "" {
		return nil, autherr.E(autherr.KindInvalidCredential, "encryption passcode is required")
	}
	if opts.RefreshToken == "" {
		return nil, autherr.E(autherr.KindInvalidCredential, "no stored refresh token; seed one first or check the passcode")
	}
	if opts.ConsumerKey == "" {
		return nil, autherr.E(autherr.KindInvalidCredential, "no consumer key seeded for this account")
	}
	return c.exchange(ctx, opts.RefreshToken, opts.ConsumerKey)
}

// Refresh silently renews an expired record using its refresh token.
func (c *Client) Refresh(ctx context.Context, rec *models.SessionRecord) (*models.SessionRecord, error) {
	if rec == nil || rec.RefreshToken == "" {
		return nil, interfaces.ErrRefreshUnsupported
	}
	return c.exchange(ctx, rec.RefreshToken, rec.ConsumerKey)
}

// Signer returns a bearer signer; the token's encrypted-refresh origin makes
// no difference at sign time.
func (c *Client) Signer(rec *models.SessionRecord, _ models.Credential) (interfaces.RequestSigner, error) {
	if rec == nil || rec.AccessToken == "" {
		return nil, autherr.E(autherr.KindUnauthenticated, "no session token; authenticate first")
	}
	return signer.NewBearerSigner(rec.TokenType, rec.AccessToken), nil
}

// exchange posts the refresh-token grant to the token endpoint.
func (c *Client) exchange(ctx context.Context, refreshToken, consumerKey string) (*models.SessionRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "rate limit wait")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID(consumerKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, autherr.Wrap(autherr.KindProtocolError, err, "failed to create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "token exchange failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "failed to read token response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return nil, autherr.E(autherr.KindInvalidCredential, "refresh token rejected: %s", errorDescription(body))

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, autherr.E(autherr.KindRateLimited, "token endpoint throttled")

	case resp.StatusCode >= 500:
		return nil, autherr.E(autherr.KindTransientNetwork, "token exchange failed with status %d", resp.StatusCode)

	default:
		return nil, autherr.E(autherr.KindProviderRejected, "token exchange failed with status %d: %s", resp.StatusCode, errorDescription(body))
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, autherr.Wrap(autherr.KindProtocolError, err, "failed to decode token response")
	}
	if tok.AccessToken == "" {
		return nil, autherr.E(autherr.KindProtocolError, "token response carried no access token")
	}

	rec := &models.SessionRecord{
		Provider:     models.ProviderTDA,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: refreshToken,
		ConsumerKey:  consumerKey,
		ExpiresAt:    tokenExpiry(tok.AccessToken, tok.ExpiresIn),
	}
	if tok.RefreshToken != "" {
		rec.RefreshToken = tok.RefreshToken
	}

	c.logger.Debug().Time("expires_at", rec.ExpiresAt).Msg("TDA access token exchanged")
	return rec, nil
}

// tokenExpiry resolves the access token lifetime: expires_in when given,
// otherwise the exp claim of a JWT access token, otherwise a fixed fallback.
func tokenExpiry(accessToken string, expiresIn int64) time.Time {
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(fallbackLifetime)
}

func clientID(consumerKey string) string {
	if strings.Contains(consumerKey, "@") {
		return consumerKey
	}
	return consumerKey + consumerKeySuffix
}

func errorDescription(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}

// Ensure Client implements Authenticator
var _ interfaces.Authenticator = (*Client)(nil)
