package license

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/provider"
	"github.com/org/licenseserver/internal/storage/storagetest"
	"github.com/org/licenseserver/pkg/models"
)

func newTestVault(t *testing.T) (*Vault, *storagetest.MemRegistry) {
	t.Helper()
	reg := storagetest.NewMemRegistry()
	sec := storagetest.NewMemSecrets()
	providers := provider.NewRegistry(reg, sec, time.Minute)
	t.Cleanup(providers.Close)
	v := NewVault(providers, reg, time.Minute)
	t.Cleanup(v.Close)

	if _, err := providers.Create(context.Background(), "acmevideo", models.Flags{}); err != nil {
		t.Fatal(err)
	}
	return v, reg
}

func TestCreate(t *testing.T) {
	v, reg := newTestVault(t)

	view, err := v.Create(context.Background(), "acmevideo", "42", "1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if view.ContentID != 42 || view.SequenceID != 1 {
		t.Errorf("ids = %d/%d", view.ContentID, view.SequenceID)
	}
	// 8 bytes of license material, hex encoded
	unenc, err := hex.DecodeString(view.License)
	if err != nil || len(unenc) != 8 {
		t.Fatalf("license %q: err=%v len=%d", view.License, err, len(unenc))
	}

	// Only the ciphertext hits the store
	stored := reg.StoredLicense(view.ProviderID, 42, 1)
	if len(stored) != 16 {
		t.Fatalf("expected 16-byte stored ciphertext, got %d", len(stored))
	}
	if bytes.Contains(stored, unenc) {
		t.Error("stored row must not contain the unencrypted material")
	}
}

func TestCreateDefaultSequence(t *testing.T) {
	v, _ := newTestVault(t)

	view, err := v.Create(context.Background(), "acmevideo", "42", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if view.SequenceID != 0 {
		t.Errorf("sequence_id = %d, want 0", view.SequenceID)
	}
}

func TestCreateValidation(t *testing.T) {
	v, _ := newTestVault(t)

	cases := []struct {
		name, cid, sid string
	}{
		{"missing content_id", "", ""},
		{"non-numeric content_id", "abc", ""},
		{"negative content_id", "-1", ""},
		{"non-numeric sequence_id", "42", "abc"},
		{"negative sequence_id", "42", "-1"},
	}
	for _, c := range cases {
		_, err := v.Create(context.Background(), "acmevideo", c.cid, c.sid)
		if !errors.Is(err, lserr.ErrInvalidArgument) {
			t.Errorf("%s: got %v, want ErrInvalidArgument", c.name, err)
		}
	}
}

func TestCreateDuplicate(t *testing.T) {
	v, _ := newTestVault(t)

	if _, err := v.Create(context.Background(), "acmevideo", "42", "1"); err != nil {
		t.Fatal(err)
	}
	_, err := v.Create(context.Background(), "acmevideo", "42", "1")
	if !errors.Is(err, lserr.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
	// A different sequence is a distinct license
	if _, err := v.Create(context.Background(), "acmevideo", "42", "2"); err != nil {
		t.Errorf("distinct sequence rejected: %v", err)
	}
}

func TestCreateUnknownProvider(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Create(context.Background(), "nosuch", "42", "")
	if !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	v, _ := newTestVault(t)

	view, err := v.Create(context.Background(), "acmevideo", "42", "1")
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.Get(context.Background(), "acmevideo", "42", "1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != view.License {
		t.Errorf("get returned %q, create returned %q", got, view.License)
	}
}

func TestGetUnknownLicense(t *testing.T) {
	v, _ := newTestVault(t)
	_, err := v.Get(context.Background(), "acmevideo", "42", "")
	if !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestGetStable(t *testing.T) {
	v, _ := newTestVault(t)

	view, err := v.Create(context.Background(), "acmevideo", "42", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		got, err := v.Get(context.Background(), "acmevideo", "42", "")
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if got != view.License {
			t.Errorf("Get %d returned %q, want %q", i, got, view.License)
		}
	}
}
