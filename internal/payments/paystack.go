// Package payments verifies session payments with Paystack.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

const paystackBaseURL = "https://api.paystack.co"

var paystackTracer = otel.Tracer("teletherapy.internal.payments.paystack")

var (
	// ErrTransactionNotFound is returned when Paystack has no transaction for the reference.
	ErrTransactionNotFound = errors.New("payments: transaction not found")

	// ErrTransactionNotSuccessful is returned when the transaction exists but did not succeed.
	ErrTransactionNotSuccessful = errors.New("payments: transaction not successful")
)

// Transaction is the part of Paystack's verify payload the platform relies on.
type Transaction struct {
	ID        int64      `json:"id"`
	Status    string     `json:"status"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paid_at"`
	Channel   string     `json:"channel"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type verifyResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    Transaction `json:"data"`
}

// PaystackVerifier confirms transactions via GET /transaction/verify/{reference}.
type PaystackVerifier struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewPaystackVerifier(secretKey string, logger *logging.Logger) *PaystackVerifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaystackVerifier{
		secretKey:  secretKey,
		baseURL:    paystackBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the Paystack API base URL (for testing).
func (p *PaystackVerifier) WithBaseURL(baseURL string) *PaystackVerifier {
	if baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	return p
}

// WithHTTPClient replaces the HTTP client.
func (p *PaystackVerifier) WithHTTPClient(c *http.Client) *PaystackVerifier {
	if c != nil {
		p.httpClient = c
	}
	return p
}

// Verify fetches the transaction for reference. Only successful transactions
// are returned without error.
func (p *PaystackVerifier) Verify(ctx context.Context, reference string) (*Transaction, error) {
	ctx, span := paystackTracer.Start(ctx, "paystack.verify")
	defer span.End()
	span.SetAttributes(attribute.String("teletherapy.payment_reference", reference))

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("payments: reference required")
	}
	if p.secretKey == "" {
		return nil, errors.New("payments: paystack secret key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("payments: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payments: paystack verify: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("payments: read verify response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode >= 300 {
		p.logger.Error("paystack verify failed", "status", resp.StatusCode, "reference", reference)
		return nil, fmt.Errorf("payments: paystack returned status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("payments: decode verify response: %w", err)
	}
	if !out.Status {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, out.Message)
	}
	if !strings.EqualFold(out.Data.Status, "success") {
		return nil, fmt.Errorf("%w: status %q", ErrTransactionNotSuccessful, out.Data.Status)
	}
	if out.Data.Reference == "" {
		out.Data.Reference = reference
	}

	p.logger.Info("paystack transaction verified", "reference", out.Data.Reference, "amount", out.Data.Amount, "currency", out.Data.Currency)
	return &out.Data, nil
}

// VerifyPayment adapts Verify to the booking flow.
func (p *PaystackVerifier) VerifyPayment(ctx context.Context, reference string) (sessions.VerifiedPayment, error) {
	tx, err := p.Verify(ctx, reference)
	if err != nil {
		return sessions.VerifiedPayment{}, err
	}
	return sessions.VerifiedPayment{
		Reference: tx.Reference,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
	}, nil
}

var _ sessions.PaymentVerifier = (*PaystackVerifier)(nil)
