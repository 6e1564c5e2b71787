package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/org/licenseserver/internal/storage/storagetest"
)

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func probe(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthOK(t *testing.T) {
	h := NewHealthHandler(storagetest.NewMemRegistry(), storagetest.NewMemSecrets())
	w := probe(h)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHealthRegistryDown(t *testing.T) {
	h := NewHealthHandler(downPinger{}, storagetest.NewMemSecrets())
	w := probe(h)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w.Body.String() != "Database connect error" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestHealthSecretsDown(t *testing.T) {
	h := NewHealthHandler(storagetest.NewMemRegistry(), downPinger{})
	w := probe(h)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w.Body.String() != "Providers connect error" {
		t.Errorf("body = %q", w.Body.String())
	}
}
