package seal

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

func testRecord() *models.SessionRecord {
	return &models.SessionRecord{
		SchemaVersion: models.SessionSchemaVersion,
		Provider:      models.ProviderRobinhood,
		AccountID:     "alice",
		AccessToken:   "access-1",
		RefreshToken:  "refresh-1",
		TokenType:     "Bearer",
		ExpiresAt:     time.Now().Add(time.Hour).Truncate(time.Second),
		DeviceToken:   "device-1",
		Environment:   models.EnvLive,
		AuthSeq:       1,
	}
}

func TestSealOpen_PlaintextRoundTrip(t *testing.T) {
	rec := testRecord()
	data, err := Seal(rec, "")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	got, ok := Open(data, "")
	if !ok {
		t.Fatal("Open failed on freshly sealed record")
	}
	if got.AccessToken != rec.AccessToken || got.AccountID != rec.AccountID {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("expiry mismatch: got %v want %v", got.ExpiresAt, rec.ExpiresAt)
	}
}

func TestSealOpen_EncryptedRoundTrip(t *testing.T) {
	rec := testRecord()
	data, err := Seal(rec, "hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	// Tokens must not appear in the sealed envelope.
	if bytes.Contains(data, []byte(rec.AccessToken)) {
		t.Fatal("access token visible in sealed envelope")
	}
	if bytes.Contains(data, []byte(rec.RefreshToken)) {
		t.Fatal("refresh token visible in sealed envelope")
	}

	got, ok := Open(data, "hunter2")
	if !ok {
		t.Fatal("Open failed with correct passcode")
	}
	if got.AccessToken != rec.AccessToken {
		t.Errorf("access token mismatch: got %q", got.AccessToken)
	}
}

func TestOpen_WrongPasscodeFailsClosed(t *testing.T) {
	data, err := Seal(testRecord(), "hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if rec, ok := Open(data, "wrong"); ok {
		t.Fatalf("expected absent with wrong passcode, got %+v", rec)
	}
	if rec, ok := Open(data, ""); ok {
		t.Fatalf("expected absent with missing passcode, got %+v", rec)
	}
}

func TestOpen_TamperDetected(t *testing.T) {
	data, err := Seal(testRecord(), "hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("envelope decode failed: %v", err)
	}
	ct := env["ciphertext"].(string)
	// Flip a character inside the base64 ciphertext.
	mutated := []byte(ct)
	if mutated[3] == 'A' {
		mutated[3] = 'B'
	} else {
		mutated[3] = 'A'
	}
	env["ciphertext"] = string(mutated)
	tampered, _ := json.Marshal(env)

	if rec, ok := Open(tampered, "hunter2"); ok {
		t.Fatalf("expected tampered envelope to fail closed, got %+v", rec)
	}
}

func TestOpen_EnvelopeVersionMismatchIsAbsent(t *testing.T) {
	data, err := Seal(testRecord(), "")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	var env map[string]any
	json.Unmarshal(data, &env)
	env["version"] = envelopeVersion + 1
	bumped, _ := json.Marshal(env)

	if rec, ok := Open(bumped, ""); ok {
		t.Fatalf("expected unknown envelope version to read absent, got %+v", rec)
	}
}

func TestOpen_SchemaVersionMismatchIsAbsent(t *testing.T) {
	rec := testRecord()
	rec.SchemaVersion = models.SessionSchemaVersion - 1
	data, err := Seal(rec, "")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if got, ok := Open(data, ""); ok {
		t.Fatalf("expected schema drift to read absent, got %+v", got)
	}
}

func TestOpen_GarbageIsAbsent(t *testing.T) {
	if rec, ok := Open([]byte("not json at all"), ""); ok {
		t.Fatalf("expected garbage to read absent, got %+v", rec)
	}
	if rec, ok := Open([]byte(`{"version":1,"record":"not-a-record"}`), ""); ok {
		t.Fatalf("expected malformed record to read absent, got %+v", rec)
	}
}
