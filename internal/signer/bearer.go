package signer

import (
	"net/http"

	"github.com/IamMikeHelsel/robin-stocks/internal/autherr"
	"github.com/IamMikeHelsel/robin-stocks/internal/interfaces"
)

// BearerSigner adds an Authorization header carrying an access token. Both
// the password-login and encrypted-OAuth providers sign this way; how the
// token was obtained makes no difference at sign time.
type BearerSigner struct {
	tokenType   string
	accessToken string
}

// NewBearerSigner builds a signer for an access token. tokenType defaults to
// "Bearer" when empty.
func NewBearerSigner(tokenType, accessToken string) *BearerSigner {
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &BearerSigner{tokenType: tokenType, accessToken: accessToken}
}

// Sign attaches the Authorization header.
func (s *BearerSigner) Sign(req *http.Request, _ []byte) error {
	if s.accessToken == "" {
		return autherr.E(autherr.KindUnauthenticated, "no access token available; authenticate first")
	}
	req.Header.Set("Authorization", s.tokenType+" "+s.accessToken)
	return nil
}

var _ interfaces.RequestSigner = (*BearerSigner)(nil)
