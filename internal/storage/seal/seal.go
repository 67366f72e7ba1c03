// Package seal serializes session records into versioned envelopes with an
// optional encrypted-at-rest mode shared by every store backend.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/scrypt"

	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

// envelopeVersion tags the on-disk envelope format. Unknown versions fail
// closed and read as absent.
const envelopeVersion = 1

// scrypt parameters for deriving the sealing key from a passcode.
const (
	kdfN      = 1 << 15
	kdfR      = 8
	kdfP      = 1
	kdfKeyLen = 32
	saltLen   = 16
)

// envelope is the serialized form every backend stores. Plaintext records sit
// in Record; sealed records carry the KDF salt, AES-GCM nonce, and ciphertext.
type envelope struct {
	Version    int             `json:"version"`
	Sealed     bool            `json:"sealed"`
	Record     json.RawMessage `json:"record,omitempty"`
	KDFSalt    []byte          `json:"kdf_salt,omitempty"`
	Nonce      []byte          `json:"nonce,omitempty"`
	Ciphertext []byte          `json:"ciphertext,omitempty"`
}

// Seal serializes a record into an envelope. A non-empty passcode produces an
// authenticated-cipher envelope; tampering or a wrong passcode is detected at
// Open time rather than producing garbage tokens.
func Seal(rec *models.SessionRecord, passcode string) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session record: %w", err)
	}

	env := envelope{Version: envelopeVersion}
	if passcode == "" {
		env.Record = raw
		return json.Marshal(env)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(passcode, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env.Sealed = true
	env.KDFSalt = salt
	env.Nonce = nonce
	env.Ciphertext = gcm.Seal(nil, nonce, raw, nil)
	return json.Marshal(env)
}

// Open deserializes an envelope back into a record. Any mismatch, whether an
// unknown envelope version, schema-version drift, a failed integrity check,
// or a missing or wrong passcode, returns (nil, false): the record is treated
// as absent.
func Open(data []byte, passcode string) (*models.SessionRecord, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if env.Version != envelopeVersion {
		return nil, false
	}

	raw := env.Record
	if env.Sealed {
		if passcode == "" {
			return nil, false
		}
		key, err := deriveKey(passcode, env.KDFSalt)
		if err != nil {
			return nil, false
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, false
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil || len(env.Nonce) != gcm.NonceSize() {
			return nil, false
		}
		raw, err = gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
		if err != nil {
			return nil, false
		}
	}

	var rec models.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	if rec.SchemaVersion != models.SessionSchemaVersion {
		return nil, false
	}
	return &rec, true
}

func deriveKey(passcode string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passcode), salt, kdfN, kdfR, kdfP, kdfKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
