package supabase_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/bank-ledger-go/internal/domain"
	"github.com/boddenberg/bank-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/bank-ledger-go/internal/infra/supabase"

	"go.uber.org/zap"
)

func newClient(url string) *supabase.Client {
	return supabase.NewClient(
		&http.Client{Timeout: 2 * time.Second},
		url, "anon-key", "service-key",
		resilience.NewCircuitBreaker("supabase-test"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		zap.NewNop(),
	)
}

func TestClient_OwnerExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/customer_profiles" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("customer_id") == "eq.owner-1" {
			w.Write([]byte(`[{"customer_id":"owner-1"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newClient(srv.URL)

	ok, err := c.OwnerExists(context.Background(), "owner-1")
	if err != nil || !ok {
		t.Fatalf("expected owner-1 to exist, got %v %v", ok, err)
	}
	ok, err = c.OwnerExists(context.Background(), "owner-2")
	if err != nil || ok {
		t.Fatalf("expected owner-2 to be absent, got %v %v", ok, err)
	}
}

func TestClient_OwnerExists_ServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).OwnerExists(context.Background(), "owner-1")

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 1 retry (2 calls), got %d", calls.Load())
	}
}
