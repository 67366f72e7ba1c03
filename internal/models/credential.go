package models

// Credential is the raw secret material for one account. It exists only in
// memory for the life of the process and is never serialized; the vault is its
// sole holder.
type Credential struct {
	Provider  Provider `json:"-"`
	AccountID string   `json:"-"`

	// Password-login material (Robinhood).
	Username string `json:"-"`
	Password string `json:"-"`

	// API key pair (Gemini).
	APIKey    string `json:"-"`
	APISecret string `json:"-"`

	// Device-bound encryption passcode unlocking the stored refresh token
	// (TD Ameritrade). Also used as the session store encryption key source.
	Passcode string `json:"-"`
}

// Key returns the vault/storage key for the credential's account.
func (c Credential) Key() string {
	return SessionKey(c.Provider, c.AccountID)
}

// Complete reports whether the credential carries the secret material the
// provider's login flow needs.
func (c Credential) Complete() bool {
	if !c.Provider.Valid() || c.AccountID == "" {
		return false
	}
	switch c.Provider {
	case ProviderRobinhood:
		return c.Username != "" && c.Password != ""
	case ProviderGemini:
		return c.APIKey != "" && c.APISecret != ""
	case ProviderTDA:
		return c.Passcode != ""
	}
	return false
}
