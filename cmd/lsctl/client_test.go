package main

import (
	"context"
	"encoding/hex"
	"net/http/httptest"
	"testing"

	"github.com/org/licenseserver/internal/api"
	"github.com/org/licenseserver/internal/sign"
	"github.com/org/licenseserver/internal/storage/storagetest"
	"github.com/org/licenseserver/pkg/models"
)

// startServer runs the real router over in-memory stores and returns a Client
// authenticated as a freshly created manage_providers provider.
func startServer(t *testing.T) *Client {
	t.Helper()
	srv := api.NewServer(storagetest.NewMemRegistry(), storagetest.NewMemSecrets(), api.Config{})
	t.Cleanup(func() { srv.Shutdown(context.Background()) }) //nolint:errcheck

	ts := httptest.NewServer(srv.BuildRouter())
	t.Cleanup(ts.Close)

	view, err := srv.Providers().Create(context.Background(), "operator", models.Flags{
		ManageProviders: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	iv, err := hex.DecodeString(view.SignIV)
	if err != nil {
		t.Fatal(err)
	}
	key, err := hex.DecodeString(view.SignKey)
	if err != nil {
		t.Fatal(err)
	}

	c := &Client{
		addr:     ts.URL,
		provider: "operator",
		iv:       iv,
		key:      key,
		http:     ts.Client(),
	}
	return c
}

func TestClientProviderRoundTrip(t *testing.T) {
	c := startServer(t)

	result, err := c.postJSON("/providers.json", sign.Params{"name": "acmevideo"})
	if err != nil {
		t.Fatalf("provider create failed: %v", err)
	}
	if result["name"] != "acmevideo" {
		t.Errorf("name = %v", result["name"])
	}
	if _, ok := result["sign_key"].(string); !ok {
		t.Error("expected sign_key in create response")
	}

	result, err = c.deleteJSON("/providers/acmevideo.json", sign.Params{"name": "acmevideo"})
	if err != nil {
		t.Fatalf("provider destroy failed: %v", err)
	}
	if result["name"] != "acmevideo" {
		t.Errorf("destroy name = %v", result["name"])
	}
}

func TestClientLicenseRoundTrip(t *testing.T) {
	c := startServer(t)

	created, err := c.postJSON("/licenses.json", sign.Params{"content_id": "42"})
	if err != nil {
		t.Fatalf("license create failed: %v", err)
	}
	licenseHex, _ := created["license"].(string)
	if len(licenseHex) != 16 {
		t.Fatalf("license = %q", licenseHex)
	}

	body, err := c.getText("/licenses/42", sign.Params{"content_id": "42"}, true)
	if err != nil {
		t.Fatalf("license get failed: %v", err)
	}
	if body != licenseHex {
		t.Errorf("got %q, want %q", body, licenseHex)
	}
}

func TestClientErrorEnvelope(t *testing.T) {
	c := startServer(t)

	// Duplicate name surfaces the server's error message
	if _, err := c.postJSON("/providers.json", sign.Params{"name": "acmevideo"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.postJSON("/providers.json", sign.Params{"name": "acmevideo"})
	if err == nil {
		t.Fatal("expected an error for a duplicate name")
	}
	if err.Error() != "name exists" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestClientBadKeyRejected(t *testing.T) {
	c := startServer(t)
	c.key = make([]byte, 32)

	_, err := c.postJSON("/providers.json", sign.Params{"name": "acmevideo"})
	if err == nil {
		t.Fatal("expected a signature rejection")
	}
	if err.Error() != "Missing or invalid signature" {
		t.Errorf("error = %q", err.Error())
	}
}
