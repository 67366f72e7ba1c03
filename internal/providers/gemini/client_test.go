package gemini

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
	"github.com/IamMikeHelsel/robin-stocks/internal/signer"
)

func testCred() models.Credential {
	return models.Credential{
		Provider:  models.ProviderGemini,
		AccountID: "bob",
		APIKey:    "account-key",
		APISecret: "account-secret",
	}
}

func newTestClient(url string) *Client {
	return NewClient(WithBaseURL(url), WithSandboxURL(url), WithRateLimit(1000))
}

// verifyHeartbeat checks the signed heartbeat headers and returns the decoded
// payload, failing the test on any signature mismatch.
func verifyHeartbeat(t *testing.T, r *http.Request, secret string) map[string]any {
	t.Helper()
	if r.URL.Path != "/v1/heartbeat" {
		t.Errorf("unexpected path %s", r.URL.Path)
	}
	encoded := r.Header.Get(signer.HeaderPayload)
	if encoded == "" {
		t.Fatal("missing payload header")
	}

	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(encoded))
	want := hex.EncodeToString(mac.Sum(nil))
	if got := r.Header.Get(signer.HeaderSignature); got != want {
		t.Errorf("signature mismatch: got %s want %s", got, want)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	return payload
}

func TestLogin_ValidatesKeyPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(signer.HeaderAPIKey); got != "account-key" {
			t.Errorf("api key header = %q", got)
		}
		payload := verifyHeartbeat(t, r, "account-secret")
		if payload["request"] != "/v1/heartbeat" {
			t.Errorf("payload request = %v", payload["request"])
		}
		if _, ok := payload["nonce"]; !ok {
			t.Error("payload missing nonce")
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}))
	defer srv.Close()

	rec, err := newTestClient(srv.URL).Login(context.Background(), testCred(), interfaces.LoginOptions{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if rec.AccessToken != "" {
		t.Error("key-signed sessions carry no access token")
	}
	if !rec.ExpiresAt.After(time.Now().Add(23 * time.Hour)) {
		t.Errorf("validation window too short: %v", rec.ExpiresAt)
	}
}

func TestLogin_MissingKeyPairRejectedLocally(t *testing.T) {
	cred := testCred()
	cred.APISecret = ""
	_, err := newTestClient("http://unused").Login(context.Background(), cred, interfaces.LoginOptions{})
	if !autherr.IsKind(err, autherr.KindInvalidCredential) {
		t.Fatalf("expected invalid_credential, got %v", err)
	}
}

func TestLogin_InvalidKeyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"reason": "InvalidSignature", "message": "InvalidSignature"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background(), testCred(), interfaces.LoginOptions{})
	if !autherr.IsKind(err, autherr.KindInvalidCredential) {
		t.Fatalf("expected invalid_credential, got %v", err)
	}
}

func TestLogin_ThrottledHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background(), testCred(), interfaces.LoginOptions{})
	if !autherr.IsKind(err, autherr.KindRateLimited) {
		t.Fatalf("expected rate_limited, got %v", err)
	}
}

func TestLogin_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background(), testCred(), interfaces.LoginOptions{})
	if !autherr.IsKind(err, autherr.KindTransientNetwork) {
		t.Fatalf("expected transient_network, got %v", err)
	}
}

func TestLogin_UnexpectedBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Login(context.Background(), testCred(), interfaces.LoginOptions{})
	if !autherr.IsKind(err, autherr.KindProtocolError) {
		t.Fatalf("expected protocol_error, got %v", err)
	}
}

func TestRefresh_Unsupported(t *testing.T) {
	_, err := newTestClient("http://unused").Refresh(context.Background(), &models.SessionRecord{})
	if err != interfaces.ErrRefreshUnsupported {
		t.Fatalf("expected ErrRefreshUnsupported, got %v", err)
	}
}

func TestSigner_NoncesIncreaseAcrossLoginAndSigner(t *testing.T) {
	var nonces []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := verifyHeartbeat(t, r, "account-secret")
		nonces = append(nonces, int64(payload["nonce"].(float64)))
		json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	if _, err := client.Login(ctx, testCred(), interfaces.LoginOptions{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// The per-request signer shares the login's counter.
	sig, err := client.Signer(nil, testCred())
	if err != nil {
		t.Fatalf("Signer failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/heartbeat", nil)
		if err := sig.Sign(req, nil); err != nil {
			t.Fatalf("Sign failed: %v", err)
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
	}

	if len(nonces) != 4 {
		t.Fatalf("expected 4 signed requests, saw %d", len(nonces))
	}
	for i := 1; i < len(nonces); i++ {
		if nonces[i] <= nonces[i-1] {
			t.Errorf("nonce %d (%d) not greater than previous (%d)", i, nonces[i], nonces[i-1])
		}
	}
}

func TestSigner_RequiresKeyPair(t *testing.T) {
	_, err := newTestClient("http://unused").Signer(nil, models.Credential{})
	if !autherr.IsKind(err, autherr.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestLogin_SandboxEnvironmentUsesSandboxURL(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("live endpoint hit for a sandbox login")
	}))
	defer live.Close()
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}))
	defer sandbox.Close()

	client := NewClient(WithBaseURL(live.URL), WithSandboxURL(sandbox.URL), WithRateLimit(1000))
	_, err := client.Login(context.Background(), testCred(), interfaces.LoginOptions{Environment: models.EnvSandbox})
	if err != nil {
		t.Fatalf("sandbox login failed: %v", err)
	}
}
