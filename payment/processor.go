/*
processor.go - HTTP client for the external payment processor

PURPOSE:
  The Processor interface is the boundary to the external payment
  provider. HTTPProcessor talks to a thirdweb-style payments API:
  POST a payment description with a secret key header, get back a
  payment id and a hosted payment link the buyer follows to pay.

TIMEOUTS:
  Every call carries a bounded timeout. On timeout the intent stays
  'created' and can be retried or swept; the ledger is never touched
  from this path.

SEE ALSO:
  - gateway.go: CreateIntent, the only caller
*/
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest describes the payment the processor should create.
type PaymentRequest struct {
	IntentID  string
	AccountID string
	Credits   int64
	Quote     decimal.Decimal
}

// PaymentResponse is the processor's answer: an id to reconcile the
// later confirmation against, and a link the buyer pays through.
type PaymentResponse struct {
	PaymentID string
	PayLink   string
}

// Processor creates payable payments at the external provider.
type Processor interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error)
}

// =============================================================================
// HTTP PROCESSOR
// =============================================================================

// HTTPProcessor implements Processor against a thirdweb-style API.
type HTTPProcessor struct {
	baseURL   string
	secretKey string
	recipient string
	client    *http.Client
}

func NewHTTPProcessor(baseURL, secretKey, recipient string, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProcessor{
		baseURL:   baseURL,
		secretKey: secretKey,
		recipient: recipient,
		client:    &http.Client{Timeout: timeout},
	}
}

type processorPayload struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Amount       string            `json:"amount"`
	Recipient    string            `json:"recipient"`
	PurchaseData map[string]string `json:"purchaseData"`
}

type processorResult struct {
	Result struct {
		ID   string `json:"id"`
		Link string `json:"link"`
	} `json:"result"`
	Message string `json:"message"`
}

func (p *HTTPProcessor) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	payload := processorPayload{
		Name:        fmt.Sprintf("%d Learning Credits", req.Credits),
		Description: fmt.Sprintf("Purchase %d credits", req.Credits),
		Amount:      req.Quote.String(),
		Recipient:   p.recipient,
		PurchaseData: map[string]string{
			"intentId":  req.IntentID,
			"accountId": req.AccountID,
			"type":      "credit_purchase",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-secret-key", p.secretKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("processor call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read processor response: %w", err)
	}

	var result processorResult
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		_ = json.Unmarshal(raw, &result)
		if result.Message != "" {
			return nil, fmt.Errorf("processor status %d: %s", resp.StatusCode, result.Message)
		}
		return nil, fmt.Errorf("processor status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode processor response: %w", err)
	}
	if result.Result.ID == "" {
		return nil, fmt.Errorf("processor response missing payment id")
	}

	return &PaymentResponse{
		PaymentID: result.Result.ID,
		PayLink:   result.Result.Link,
	}, nil
}

// =============================================================================
// LOCAL PROCESSOR
// =============================================================================

// LocalProcessor fabricates payment ids and links without calling any
// provider. Dev and tests only; confirmations must then come from a
// simulator or test driver.
type LocalProcessor struct{}

func (LocalProcessor) CreatePayment(_ context.Context, req PaymentRequest) (*PaymentResponse, error) {
	return &PaymentResponse{
		PaymentID: "local-" + req.IntentID,
		PayLink:   "http://localhost/pay/" + req.IntentID,
	}, nil
}
