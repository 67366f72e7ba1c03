// Package robinhood implements the password + MFA/device-challenge login flow.
package robinhood

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/signer"
)

const (
	DefaultBaseURL   = "https://api.robinhood.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	// oauthClientID is the public client identifier the official apps present.
	oauthClientID = "c82SH0WZOsabOXGP2sxqcj34FxkvfnWRZBKlBjFS"

	// tokenLifetime is requested on every password grant.
	tokenLifetime = 86400 * time.Second

	// challengeWindow bounds how long a device challenge stays answerable.
	challengeWindow = 5 * time.Minute

	challengeResponseHeader = "X-ROBINHOOD-CHALLENGE-RESPONSE-ID"
)

// Client implements interfaces.Authenticator for Robinhood.
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

// NewClient creates a new Robinhood login client
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
	return models.ProviderRobinhood
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`

	MFARequired bool   `json:"mfa_required"`
	MFAType     string `json:"mfa_type"`
	Challenge   *struct {
		ID                string `json:"id"`
		Type              string `json:"type"`
		RemainingAttempts int    `json:"remaining_attempts"`
	} `json:"challenge"`
	Detail string `json:"detail"`
}

// Login performs the password grant, walking the MFA and device-challenge
// sub-states when the provider demands them.
func (c *Client) Login(ctx context.Context, cred models.Credential, opts interfaces.LoginOptions) (*models.SessionRecord, error) {
	if cred.Username == "" || cred.Password == "" {
		return nil, autherr.E(autherr.KindInvalidCredential, "username and password are required")
	}

	// A pending device challenge is resolved first; the token request is then
	// replayed with the challenge response header so the provider links them.
	var challengeID string
	if opts.ChallengeID != "" && opts.ChallengeResponse != "" {
		if err := c.respondToChallenge(ctx, opts.ChallengeID, opts.ChallengeResponse); err != nil {
			return nil, err
		}
		challengeID = opts.ChallengeID
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", oauthClientID)
	form.Set("scope", "internal")
	form.Set("expires_in", fmt.Sprintf("%d", int64(tokenLifetime.Seconds())))
	form.Set("username", cred.Username)
	form.Set("password", cred.Password)
	form.Set("challenge_type", "sms")
	form.Set("device_token", opts.DeviceToken)
	if code := firstNonEmpty(opts.MFACode, opts.BackupCode); code != "" {
		form.Set("mfa_code", code)
	}

	var tok tokenResponse
	status, err := c.postForm(ctx, "/oauth2/token/", form, challengeID, &tok)
	if err != nil {
		return nil, err
	}

	switch {
	case tok.Challenge != nil:
		challenge := &models.Challenge{
			ID:        tok.Challenge.ID,
			Type:      challengeType(tok.Challenge.Type),
			ExpiresAt: time.Now().Add(challengeWindow),
		}
		return nil, &autherr.Error{
			Kind:      autherr.KindDeviceVerification,
			Message:   fmt.Sprintf("device verification required (%s challenge)", tok.Challenge.Type),
			Challenge: challenge,
		}

	case tok.MFARequired:
		return nil, &autherr.Error{
			Kind:    autherr.KindMFARequired,
			Message: fmt.Sprintf("one-time code required (%s)", tok.MFAType),
			Challenge: &models.Challenge{
				Type:      models.ChallengeDevice,
				ExpiresAt: time.Now().Add(challengeWindow),
			},
		}

	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return nil, autherr.E(autherr.KindInvalidCredential, "login rejected: %s", firstNonEmpty(tok.Detail, "bad credentials"))

	case status != http.StatusOK:
		return nil, autherr.E(autherr.KindProviderRejected, "login failed with status %d: %s", status, tok.Detail)

	case tok.AccessToken == "":
		return nil, autherr.E(autherr.KindProtocolError, "login response carried no access token")
	}

	c.logger.Debug().Str("username", cred.Username).Msg("Robinhood login succeeded")
	return c.record(&tok), nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, rec *models.SessionRecord) (*models.SessionRecord, error) {
	if rec == nil || rec.RefreshToken == "" {
		return nil, interfaces.ErrRefreshUnsupported
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", oauthClientID)
	form.Set("refresh_token", rec.RefreshToken)
	form.Set("scope", "internal")
	form.Set("device_token", rec.DeviceToken)

	var tok tokenResponse
	status, err := c.postForm(ctx, "/oauth2/token/", form, "", &tok)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK:
		// fall through to decode

	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return nil, autherr.E(autherr.KindInvalidCredential, "refresh token rejected: %s", firstNonEmpty(tok.Detail, "invalid grant"))

	case status == http.StatusTooManyRequests:
		return nil, autherr.E(autherr.KindRateLimited, "token endpoint throttled")

	case status >= 500:
		return nil, autherr.E(autherr.KindTransientNetwork, "refresh failed with status %d", status)

	default:
		return nil, autherr.E(autherr.KindProviderRejected, "refresh rejected with status %d: %s", status, tok.Detail)
	}

	if tok.AccessToken == "" {
		return nil, autherr.E(autherr.KindProtocolError, "refresh response carried no access token")
	}

	c.logger.Debug().Str("account", rec.AccountID).Msg("Robinhood token refreshed")
	return c.record(&tok), nil
}

// Signer returns a bearer signer for the record's access token.
func (c *Client) Signer(rec *models.SessionRecord, _ models.Credential) (interfaces.RequestSigner, error) {
	if rec == nil || rec.AccessToken == "" {
		return nil, autherr.E(autherr.KindUnauthenticated, "no session token; authenticate first")
	}
	return signer.NewBearerSigner(rec.TokenType, rec.AccessToken), nil
}

// record builds the token portion of a session record; the session manager
// stamps identity, schema, and sequencing fields.
func (c *Client) record(tok *tokenResponse) *models.SessionRecord {
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = int64(tokenLifetime.Seconds())
	}
	return &models.SessionRecord{
		Provider:     models.ProviderRobinhood,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second),
	}
}

// respondToChallenge posts the caller's code against a pending challenge.
func (c *Client) respondToChallenge(ctx context.Context, challengeID, response string) error {
	body, err := json.Marshal(map[string]string{"response": response})
	if err != nil {
		return fmt.Errorf("failed to encode challenge response: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/challenge/%s/respond/", c.baseURL, challengeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return autherr.Wrap(autherr.KindTransientNetwork, err, "challenge respond failed")
	}
	defer resp.Body.Close()

	var result struct {
		Status            string `json:"status"`
		RemainingAttempts int    `json:"remaining_attempts"`
		Detail            string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return autherr.Wrap(autherr.KindProtocolError, err, "failed to decode challenge response")
	}

	if result.Status != "validated" {
		if result.RemainingAttempts > 0 {
			return &autherr.Error{
				Kind:    autherr.KindDeviceVerification,
				Message: fmt.Sprintf("challenge code rejected, %d attempts remaining", result.RemainingAttempts),
				Challenge: &models.Challenge{
					ID:        challengeID,
					Type:      models.ChallengeDevice,
					ExpiresAt: time.Now().Add(challengeWindow),
				},
			}
		}
		return autherr.E(autherr.KindInvalidCredential, "challenge exhausted: %s", firstNonEmpty(result.Detail, result.Status))
	}
	return nil
}

// postForm sends a rate-limited form POST and decodes the JSON response. The
// HTTP status is returned alongside so callers can branch on provider
// decisions; only transport and decode failures are errors.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, challengeID string, result any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if challengeID != "" {
		req.Header.Set(challengeResponseHeader, challengeID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, autherr.Wrap(autherr.KindTransientNetwork, err, "login request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, autherr.Wrap(autherr.KindTransientNetwork, err, "failed to read login response")
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return resp.StatusCode, autherr.Wrap(autherr.KindProtocolError, err, "failed to decode login response")
		}
	}
	return resp.StatusCode, nil
}

func challengeType(t string) models.ChallengeType {
	switch t {
	case "sms":
		return models.ChallengeSMS
	case "email":
		return models.ChallengeEmail
	default:
		return models.ChallengeDevice
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Ensure Client implements Authenticator
var _ interfaces.Authenticator = (*Client)(nil)
