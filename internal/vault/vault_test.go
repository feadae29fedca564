package vault

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestStoreThenLoad(t *testing.T) {
	v := New(NewMemStore())

	meta := map[string]string{"provider": "github"}
	if !v.Store("access-token", "gho_secret", meta) {
		t.Fatal("Store() failed")
	}

	rec, ok := v.Load("access-token")
	if !ok {
		t.Fatal("Load() did not find stored record")
	}
	if rec.Secret != "gho_secret" {
		t.Errorf("Secret = %q, want %q", rec.Secret, "gho_secret")
	}
	if rec.Metadata["provider"] != "github" {
		t.Errorf("Metadata[provider] = %q, want %q", rec.Metadata["provider"], "github")
	}
	if rec.StoredAt.IsZero() {
		t.Error("StoredAt not stamped")
	}
}

func TestStoreReplacesExistingRecord(t *testing.T) {
	store := NewMemStore()
	v := New(store)

	v.Store("realm", "first", nil)
	v.Store("realm", "second", nil)

	rec, ok := v.Load("realm")
	if !ok {
		t.Fatal("Load() did not find record")
	}
	if rec.Secret != "second" {
		t.Errorf("Secret = %q, want %q", rec.Secret, "second")
	}
	if store.Len() != 1 {
		t.Errorf("store holds %d records, want 1", store.Len())
	}
}

func TestDelete(t *testing.T) {
	v := New(NewMemStore())

	v.Store("realm", "secret", nil)
	if !v.Delete("realm") {
		t.Error("Delete() failed")
	}
	if _, ok := v.Load("realm"); ok {
		t.Error("record still present after Delete()")
	}

	// Deleting an absent realm succeeds.
	if !v.Delete("nothing-here") {
		t.Error("Delete() of absent realm failed")
	}
}

func TestIsValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		storedAt time.Time
		meta     map[string]string
		maxAge   time.Duration
		want     bool
	}{
		{
			name:     "fresh record no constraints",
			storedAt: now.Add(-time.Hour),
			want:     true,
		},
		{
			name:     "within max age",
			storedAt: now.Add(-4 * time.Minute),
			maxAge:   5 * time.Minute,
			want:     true,
		},
		{
			name:     "past max age",
			storedAt: now.Add(-6 * time.Minute),
			maxAge:   5 * time.Minute,
			want:     false,
		},
		{
			name:     "metadata expiry in future",
			storedAt: now.Add(-time.Hour),
			meta:     map[string]string{MetaExpiresAt: strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)},
			want:     true,
		},
		{
			name:     "metadata expiry in past without max age",
			storedAt: now.Add(-time.Hour),
			meta:     map[string]string{MetaExpiresAt: strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)},
			want:     false,
		},
		{
			name:     "unparsable metadata expiry ignored",
			storedAt: now.Add(-time.Hour),
			meta:     map[string]string{MetaExpiresAt: "not-a-timestamp"},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(NewMemStore())
			v.now = func() time.Time { return tt.storedAt }
			v.Store("realm", "secret", tt.meta)
			v.now = func() time.Time { return now }

			if got := v.IsValid("realm", tt.maxAge); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidMissingRealm(t *testing.T) {
	v := New(NewMemStore())
	if v.IsValid("absent", 0) {
		t.Error("IsValid() true for absent realm")
	}
}

func TestStoreFailureDegrades(t *testing.T) {
	store := NewMemStore()
	store.Fail = true
	v := New(store)

	if v.Store("realm", "secret", nil) {
		t.Error("Store() succeeded against failing store")
	}
	if _, ok := v.Load("realm"); ok {
		t.Error("Load() found record in failing store")
	}
	if v.IsValid("realm", 0) {
		t.Error("IsValid() true against failing store")
	}
	if v.Delete("realm") {
		t.Error("Delete() succeeded against failing store")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.bin")
	v := New(NewFileStore(path, "test-passphrase"))

	if !v.Store("realm", "secret", map[string]string{"k": "v"}) {
		t.Fatal("Store() failed")
	}

	// A fresh store over the same file and passphrase sees the record.
	reopened := New(NewFileStore(path, "test-passphrase"))
	rec, ok := reopened.Load("realm")
	if !ok {
		t.Fatal("record not found after reopen")
	}
	if rec.Secret != "secret" || rec.Metadata["k"] != "v" {
		t.Errorf("reopened record = %+v", rec)
	}
}

func TestFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.bin")
	New(NewFileStore(path, "right")).Store("realm", "secret", nil)

	// The wrong key fails to unseal; the vault degrades to absent.
	v := New(NewFileStore(path, "wrong"))
	if _, ok := v.Load("realm"); ok {
		t.Error("Load() unsealed with wrong passphrase")
	}
}
