package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

func newPaystackServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/transaction/verify/ref_123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_abc" {
			t.Errorf("expected auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPaystackVerifyPaymentSuccess(t *testing.T) {
	srv := newPaystackServer(t, http.StatusOK, `{
		"status": true,
		"message": "Verification successful",
		"data": {"id": 42, "status": "success", "reference": "ref_123", "amount": 1500000, "currency": "NGN",
		         "paid_at": "2026-03-01T10:00:00Z", "customer": {"email": "ada@example.com"}}
	}`)
	v := NewPaystackVerifier("sk_test_abc", logging.Discard()).WithBaseURL(srv.URL)

	got, err := v.VerifyPayment(context.Background(), "ref_123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Reference != "ref_123" || got.Amount != 1500000 || got.Currency != "NGN" {
		t.Fatalf("unexpected payment %+v", got)
	}
}

func TestPaystackVerifyRejectsUnsuccessful(t *testing.T) {
	srv := newPaystackServer(t, http.StatusOK, `{"status": true, "message": "ok", "data": {"status": "abandoned", "reference": "ref_123", "amount": 100}}`)
	v := NewPaystackVerifier("sk_test_abc", nil).WithBaseURL(srv.URL)

	_, err := v.VerifyPayment(context.Background(), "ref_123")
	if !errors.Is(err, ErrTransactionNotSuccessful) {
		t.Fatalf("expected ErrTransactionNotSuccessful, got %v", err)
	}
}

func TestPaystackVerifyNotFound(t *testing.T) {
	srv := newPaystackServer(t, http.StatusNotFound, `{"status": false, "message": "Transaction reference not found"}`)
	v := NewPaystackVerifier("sk_test_abc", nil).WithBaseURL(srv.URL)

	_, err := v.Verify(context.Background(), "ref_123")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPaystackVerifyServerError(t *testing.T) {
	srv := newPaystackServer(t, http.StatusBadGateway, `oops`)
	v := NewPaystackVerifier("sk_test_abc", nil).WithBaseURL(srv.URL)

	if _, err := v.Verify(context.Background(), "ref_123"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPaystackVerifyRequiresReferenceAndKey(t *testing.T) {
	if _, err := NewPaystackVerifier("sk", nil).Verify(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty reference")
	}
	if _, err := NewPaystackVerifier("", nil).Verify(context.Background(), "ref"); err == nil {
		t.Fatal("expected error without secret key")
	}
}
