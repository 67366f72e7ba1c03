package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IamMikeHelsel/robin-stocks/internal/common"
	"github.com/IamMikeHelsel/robin-stocks/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(common.NewSilentLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func testRecord(account string) *models.SessionRecord {
	return &models.SessionRecord{
		SchemaVersion: models.SessionSchemaVersion,
		Provider:      models.ProviderRobinhood,
		AccountID:     account,
		AccessToken:   "access-" + account,
		ExpiresAt:     time.Now().Add(time.Hour),
		Environment:   models.EnvLive,
		AuthSeq:       1,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := testRecord("alice")

	if err := store.Save(ctx, rec, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, models.ProviderRobinhood, "alice", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got absent")
	}
	if got.AccessToken != rec.AccessToken {
		t.Errorf("access token mismatch: got %q want %q", got.AccessToken, rec.AccessToken)
	}
}

func TestStore_LoadMissingIsAbsent(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load(context.Background(), models.ProviderGemini, "nobody", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent, got %+v", got)
	}
}

func TestStore_ClearThenLoadIsAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("alice"), ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(ctx, models.ProviderRobinhood, "alice"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err := store.Load(ctx, models.ProviderRobinhood, "alice", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent after clear, got %+v", got)
	}
}

func TestStore_ClearMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.Clear(context.Background(), models.ProviderRobinhood, "ghost"); err != nil {
		t.Fatalf("Clear on missing record should be a no-op, got %v", err)
	}
}

func TestStore_EncryptedRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := testRecord("bob")

	if err := store.Save(ctx, rec, "passcode-1"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, models.ProviderRobinhood, "bob", "passcode-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.AccessToken != rec.AccessToken {
		t.Fatalf("encrypted round trip failed: got %+v", got)
	}

	// Wrong passcode reads as absent, never an error or garbage tokens.
	got, err = store.Load(ctx, models.ProviderRobinhood, "bob", "wrong")
	if err != nil {
		t.Fatalf("Load with wrong passcode should not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent with wrong passcode, got %+v", got)
	}
}

func TestStore_CorruptFileIsAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("alice"), ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	path := store.path(models.ProviderRobinhood, "alice")
	if err := os.WriteFile(path, []byte("{{{corrupt"), 0600); err != nil {
		t.Fatalf("corrupting file failed: %v", err)
	}

	got, err := store.Load(ctx, models.ProviderRobinhood, "alice", "")
	if err != nil {
		t.Fatalf("Load of corrupt file should not error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected corrupt file to read absent, got %+v", got)
	}
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Save(ctx, testRecord("alice"), ""); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	dir := filepath.Dir(store.path(models.ProviderRobinhood, "alice"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_KeySanitization(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("../../evil")
	if err := store.Save(ctx, rec, ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, models.ProviderRobinhood, "../../evil", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected sanitized key round trip")
	}
	// The file must stay inside the store's base path.
	path := store.path(models.ProviderRobinhood, "../../evil")
	if !strings.HasPrefix(path, store.basePath) {
		t.Errorf("sanitized path escapes base: %s", path)
	}
}
