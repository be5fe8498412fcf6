package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
)

// Client talks to the external payment gateway over HTTP. The gateway owns
// the source of truth: the STK push submission, the status poll primitive,
// and the authoritative wallet balance and transaction history.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type stkPushRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PhoneNumber      string          `json:"phone_number"`
	AccountReference string          `json:"account_reference"`
	TransactionDesc  string          `json:"transaction_desc"`
}

// SubmitDeposit initiates an STK push. The returned CheckoutRequestID is the
// only handle the reconciler has on the outcome; the acknowledgement itself
// implies nothing about success.
func (c *Client) SubmitDeposit(ctx context.Context, amount decimal.Decimal, phoneNumber, accountReference string) (models.StkPushResponse, error) {
	var resp models.StkPushResponse

	body, err := json.Marshal(stkPushRequest{
		Amount:           amount,
		PhoneNumber:      phoneNumber,
		AccountReference: accountReference,
		TransactionDesc:  "Wallet top-up",
	})
	if err != nil {
		return resp, err
	}

	if err := c.do(ctx, http.MethodPost, "/stk/push", bytes.NewReader(body), &resp); err != nil {
		return resp, fmt.Errorf("submit deposit: %w", err)
	}
	return resp, nil
}

// GetStatus is the poll primitive: the current gateway-side status of one
// checkout request.
func (c *Client) GetStatus(ctx context.Context, requestID string) (models.StatusReport, error) {
	var report models.StatusReport

	path := "/stk/status?checkout_request_id=" + url.QueryEscape(requestID)
	if err := c.do(ctx, http.MethodGet, path, nil, &report); err != nil {
		return report, fmt.Errorf("get status: %w", err)
	}
	return report, nil
}

// GetBalance returns the authoritative wallet balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var wallet models.Wallet
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", nil, &wallet); err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return wallet.Balance, nil
}

// GetTransactionHistory returns the wallet ledger, newest first.
func (c *Client) GetTransactionHistory(ctx context.Context) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := c.do(ctx, http.MethodGet, "/wallet/transactions", nil, &txns); err != nil {
		return nil, fmt.Errorf("get transaction history: %w", err)
	}
	return txns, nil
}

func (c *Client) do(ctx context.Context, method, path string, body *bytes.Reader, out interface{}) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
