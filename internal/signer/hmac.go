package signer

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
)

// Gemini request-signing headers.
const (
	HeaderAPIKey    = "X-GEMINI-APIKEY"
	HeaderPayload   = "X-GEMINI-PAYLOAD"
	HeaderSignature = "X-GEMINI-SIGNATURE"
)

// HMACSigner signs requests with an API key pair: the request path, a
// strictly increasing nonce, and the body fields are folded into a base64
// payload, and an HMAC-SHA384 of that payload proves key possession.
type HMACSigner struct {
	apiKey string
	secret []byte
	nonce  *NonceCounter
}

// NewHMACSigner builds a signer for an API key pair. The nonce counter is
// shared across every request signed for the credential's lifetime.
func NewHMACSigner(apiKey, apiSecret string, nonce *NonceCounter) *HMACSigner {
	return &HMACSigner{apiKey: apiKey, secret: []byte(apiSecret), nonce: nonce}
}

// Sign computes and attaches the payload, signature, and key headers. The
// JSON body, when present, contributes its top-level fields to the payload.
func (s *HMACSigner) Sign(req *http.Request, body []byte) error {
	if s.apiKey == "" || len(s.secret) == 0 {
		return autherr.E(autherr.KindUnauthenticated, "no API key pair available; authenticate first")
	}

	payload := map[string]any{
		"request": req.URL.Path,
		"nonce":   s.nonce.Next(),
	}
	if len(body) > 0 {
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return autherr.Wrap(autherr.KindProtocolError, err, "request body is not a JSON object")
		}
		for k, v := range fields {
			if k == "request" || k == "nonce" {
				continue
			}
			payload[k] = v
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return autherr.Wrap(autherr.KindProtocolError, err, "failed to encode payload")
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	mac := hmac.New(sha512.New384, s.secret)
	mac.Write([]byte(encoded))
	sig := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set(HeaderAPIKey, s.apiKey)
	req.Header.Set(HeaderPayload, encoded)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Cache-Control", "no-cache")
	return nil
}

var _ interfaces.RequestSigner = (*HMACSigner)(nil)
