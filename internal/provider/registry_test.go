package provider

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/org/licenseserver/internal/crypto"
	"github.com/org/licenseserver/internal/lserr"
	"github.com/org/licenseserver/internal/storage/storagetest"
	"github.com/org/licenseserver/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, *storagetest.MemRegistry, *storagetest.MemSecrets) {
	t.Helper()
	reg := storagetest.NewMemRegistry()
	sec := storagetest.NewMemSecrets()
	r := NewRegistry(reg, sec, time.Minute)
	t.Cleanup(r.Close)
	return r, reg, sec
}

func TestCreate(t *testing.T) {
	r, _, sec := newTestRegistry(t)

	view, err := r.Create(context.Background(), "acmevideo", models.Flags{CheckSign: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if view.Name != "acmevideo" {
		t.Errorf("name = %q", view.Name)
	}
	if !view.Flags.CheckSign || view.Flags.CheckToken || view.Flags.ManageProviders {
		t.Errorf("flags = %+v", view.Flags)
	}

	// Create is the only moment the sign pair is handed out
	iv, err := hex.DecodeString(view.SignIV)
	if err != nil || len(iv) != crypto.IVLength {
		t.Errorf("sign_iv %q: err=%v len=%d", view.SignIV, err, len(iv))
	}
	key, err := hex.DecodeString(view.SignKey)
	if err != nil || len(key) != crypto.KeyLength {
		t.Errorf("sign_key %q: err=%v len=%d", view.SignKey, err, len(key))
	}
	if sec.Count() != 1 {
		t.Errorf("expected 1 secret row, got %d", sec.Count())
	}
}

func TestCreateInvalidNames(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	for _, name := range []string{"", "abcd", "has space", "has-dash", "semi;colon"} {
		_, err := r.Create(context.Background(), name, models.Flags{})
		if !errors.Is(err, lserr.ErrInvalidArgument) {
			t.Errorf("name %q: got %v, want ErrInvalidArgument", name, err)
		}
	}

	// Exactly 5 word characters is the minimum
	if _, err := r.Create(context.Background(), "abcde", models.Flags{}); err != nil {
		t.Errorf("5-char name rejected: %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r, _, sec := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "acmevideo", models.Flags{}); err != nil {
		t.Fatal(err)
	}
	_, err := r.Create(context.Background(), "acmevideo", models.Flags{})
	if !errors.Is(err, lserr.ErrConflict) {
		t.Errorf("got %v, want ErrConflict", err)
	}
	if sec.Count() != 1 {
		t.Errorf("expected the winner's single secret row, got %d", sec.Count())
	}
}

func TestCreateCompensatesSecret(t *testing.T) {
	r, reg, sec := newTestRegistry(t)

	reg.FailCreateProvider = errors.New("registry down")
	_, err := r.Create(context.Background(), "acmevideo", models.Flags{})
	if err == nil {
		t.Fatal("expected error when the registry insert fails")
	}
	// The secret row written in step one must be rolled back
	if sec.Count() != 0 {
		t.Errorf("expected 0 secret rows after compensation, got %d", sec.Count())
	}

	// And the name is reusable afterwards
	if _, err := r.Create(context.Background(), "acmevideo", models.Flags{}); err != nil {
		t.Errorf("create after compensation failed: %v", err)
	}
}

func TestDestroy(t *testing.T) {
	r, _, sec := newTestRegistry(t)

	created, err := r.Create(context.Background(), "acmevideo", models.Flags{CheckToken: true})
	if err != nil {
		t.Fatal(err)
	}

	view, err := r.Destroy(context.Background(), "acmevideo")
	if err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	// Pre-delete view still carries the sign pair
	if view.SignIV != created.SignIV || view.SignKey != created.SignKey {
		t.Error("destroy view should carry the provider's sign pair")
	}
	if sec.Count() != 0 {
		t.Errorf("expected 0 secret rows, got %d", sec.Count())
	}

	if _, err := r.Get(context.Background(), "acmevideo"); !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("get after destroy: %v, want ErrNotFound", err)
	}
}

func TestDestroyUnknown(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Destroy(context.Background(), "nosuch")
	if !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDestroyInvalidatesCache(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "acmevideo", models.Flags{}); err != nil {
		t.Fatal(err)
	}
	// Warm the cache
	if _, err := r.GetRaw(context.Background(), "acmevideo"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Destroy(context.Background(), "acmevideo"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetRaw(context.Background(), "acmevideo"); !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("stale cache entry survived destroy: %v", err)
	}
}

func TestGetStripsCryptoMaterial(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "acmevideo", models.Flags{}); err != nil {
		t.Fatal(err)
	}

	raw, err := r.GetRaw(context.Background(), "acmevideo")
	if err != nil {
		t.Fatal(err)
	}
	if len(raw.CryptoIV) != crypto.IVLength || len(raw.CryptoKey) != crypto.KeyLength {
		t.Error("raw provider should carry the crypto pair")
	}

	view, err := r.Get(context.Background(), "acmevideo")
	if err != nil {
		t.Fatal(err)
	}
	// The public view exposes the sign pair but never the crypto pair;
	// ProviderView has no crypto fields at all.
	if view.SignIV != hex.EncodeToString(raw.SignIV) {
		t.Error("view sign_iv mismatch")
	}
}

func TestGetEmptyName(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.GetRaw(context.Background(), ""); !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	for bits := uint64(0); bits < 8; bits++ {
		f := models.ParseFlags(bits)
		if f.Sum() != bits {
			t.Errorf("bits %d: round trip gave %d", bits, f.Sum())
		}
	}
	// Unknown high bits are dropped
	if got := models.ParseFlags(0xFF).Sum(); got != 7 {
		t.Errorf("high bits should be ignored, got %d", got)
	}
}

func TestGetRawCaches(t *testing.T) {
	r, reg, _ := newTestRegistry(t)

	if _, err := r.Create(context.Background(), "acmevideo", models.Flags{}); err != nil {
		t.Fatal(err)
	}
	first, err := r.GetRaw(context.Background(), "acmevideo")
	if err != nil {
		t.Fatal(err)
	}
	// Remove the backing row; the cached entry must keep serving
	if err := reg.DeleteProvider(context.Background(), first.ID); err != nil {
		t.Fatal(err)
	}
	second, err := r.GetRaw(context.Background(), "acmevideo")
	if err != nil {
		t.Fatalf("cached read failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("cached provider id %d != %d", second.ID, first.ID)
	}

	// Invalidate forces a reload, which now misses
	r.Invalidate("acmevideo")
	if _, err := r.GetRaw(context.Background(), "acmevideo"); !errors.Is(err, lserr.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound after invalidate", err)
	}
}
