package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
)

// RequestSpec describes one outbound business request.
type RequestSpec struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header

	// Write marks an operation with side effects (order placement,
	// cancellation). Writes are never silently retried after a transient
	// failure unless RetryWrite opts in.
	Write      bool
	RetryWrite bool
}

// Policy parameterizes the retry behavior. Every loop is bounded by both an
// attempt cap and a wall-clock deadline.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsed     time.Duration
	RetryAfterCap  time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		MaxElapsed:     2 * time.Minute,
		RetryAfterCap:  30 * time.Second,
	}
}

// PolicyFromConfig builds a Policy from the transport configuration.
func PolicyFromConfig(cfg *common.TransportConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	p.InitialBackoff = cfg.GetInitialBackoff()
	p.MaxBackoff = cfg.GetMaxBackoff()
	p.MaxElapsed = cfg.GetMaxElapsed()
	p.RetryAfterCap = cfg.GetRetryAfterCap()
	return p
}

// Dispatcher issues signed requests and recovers transient failures.
type Dispatcher struct {
	httpClient *http.Client
	sessions   interfaces.SessionService
	policy     Policy
	logger     *common.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.httpClient = client
	}
}

// WithPolicy sets the retry policy.
func WithPolicy(policy Policy) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher over the session service used for
// auth-expiry recovery.
func NewDispatcher(sessions interfaces.SessionService, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sessions:   sessions,
		policy:     DefaultPolicy(),
		logger:     common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch signs and sends one request, retrying per policy, and returns the
// response body.
//
// AuthExpired triggers one invalidate + reauthenticate + resend cycle; a
// second rejection surfaces as ProviderRejected. RateLimited sleeps for the
// hinted duration (bounded) and retries up to the attempt cap. Transient
// failures retry with exponential backoff and jitter, except writes that did
// not opt in, which surface immediately and are flagged "unknown outcome"
// when the request may have reached the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, actx interfaces.AuthContext, spec RequestSpec) ([]byte, error) {
	if actx == nil {
		return nil, autherr.E(autherr.KindUnauthenticated, "no authenticated context; authenticate first")
	}

	deadline := time.Now().Add(d.policy.MaxElapsed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.policy.InitialBackoff
	bo.MaxInterval = d.policy.MaxBackoff
	bo.MaxElapsedTime = d.policy.MaxElapsed
	bo.Reset()

	reauthed := false
	var last Classification

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if time.Now().After(deadline) {
			break
		}

		body, cls, err := d.attempt(ctx, actx, spec)
		last = cls
		if err != nil {
			// Context cancellation and request-construction failures are
			// terminal regardless of classification.
			if ctx.Err() != nil {
				return nil, autherr.Wrap(autherr.KindTransientNetwork, ctx.Err(), "request abandoned")
			}
			if cls.Outcome == OutcomeProtocolError {
				return nil, err
			}
		}

		switch cls.Outcome {
		case OutcomeSuccess:
			return body, nil

		case OutcomeAuthExpired:
			if reauthed {
				return nil, autherr.E(autherr.KindProviderRejected, "request rejected again after re-authentication")
			}
			fresh, rerr := d.reauthenticate(ctx, actx)
			if rerr != nil {
				return nil, rerr
			}
			actx = fresh
			reauthed = true
			// The re-signed resend does not consume a retry attempt.
			attempt--
			continue

		case OutcomeRateLimited:
			if attempt == d.policy.MaxAttempts {
				return nil, autherr.E(autherr.KindRateLimited, "rate limited after %d attempts", attempt)
			}
			wait := cls.RetryAfter
			if wait <= 0 {
				wait = bo.NextBackOff()
			}
			if wait > d.policy.RetryAfterCap {
				wait = d.policy.RetryAfterCap
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "request abandoned while rate limited")
			}

		case OutcomeTransient:
			if spec.Write && !spec.RetryWrite {
				return nil, &autherr.Error{
					Kind:           autherr.KindTransientNetwork,
					Message:        "write failed on a transient error and write retry was not enabled",
					HTTPStatus:     cls.Status,
					OutcomeUnknown: cls.Sent,
				}
			}
			if attempt == d.policy.MaxAttempts {
				return nil, autherr.E(autherr.KindTransientNetwork, "request failed after %d attempts (last status %d)", attempt, cls.Status)
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return nil, autherr.E(autherr.KindTransientNetwork, "retry budget exhausted (last status %d)", cls.Status)
			}
			if err := sleep(ctx, wait); err != nil {
				return nil, autherr.Wrap(autherr.KindTransientNetwork, err, "request abandoned during backoff")
			}

		case OutcomeClientError:
			d.logger.Debug().
				Int("status", cls.Status).
				Str("method", spec.Method).
				Str("url", spec.URL).
				Msg("Request rejected by provider")
			return nil, &autherr.Error{
				Kind:       autherr.KindClientError,
				Message:    fmt.Sprintf("request rejected with status %d: %s", cls.Status, truncate(body, 256)),
				HTTPStatus: cls.Status,
			}

		case OutcomeProtocolError:
			return nil, autherr.E(autherr.KindProtocolError, "malformed response (status %d)", cls.Status)
		}
	}

	return nil, autherr.E(autherr.KindTransientNetwork, "request failed after %d attempts (last outcome %s)", d.policy.MaxAttempts, last.Outcome)
}

// attempt signs and sends the request once.
func (d *Dispatcher) attempt(ctx context.Context, actx interfaces.AuthContext, spec RequestSpec) ([]byte, Classification, error) {
	var reader io.Reader
	if len(spec.Body) > 0 {
		reader = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, reader)
	if err != nil {
		return nil, Classification{Outcome: OutcomeProtocolError}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range spec.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	if err := actx.Sign(req, spec.Body); err != nil {
		return nil, Classification{Outcome: OutcomeProtocolError}, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, Classify(nil, err), err
	}
	defer resp.Body.Close()

	cls := Classify(resp, nil)
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, Classification{Outcome: OutcomeTransient, Status: resp.StatusCode, Sent: true},
			fmt.Errorf("failed to read response body: %w", readErr)
	}
	return body, cls, nil
}

// reauthenticate clears the expired session and acquires a fresh context.
func (d *Dispatcher) reauthenticate(ctx context.Context, actx interfaces.AuthContext) (interfaces.AuthContext, error) {
	d.logger.Debug().
		Str("provider", string(actx.Provider())).
		Str("account", actx.AccountID()).
		Msg("Auth expired, re-authenticating")

	if err := d.sessions.Invalidate(ctx, actx.Provider(), actx.AccountID()); err != nil {
		return nil, err
	}
	fresh, err := d.sessions.Reacquire(ctx, actx.Provider(), actx.AccountID())
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
