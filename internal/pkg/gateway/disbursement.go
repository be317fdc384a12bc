package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ProviderDisbursement = "disbursement"

// DisbursementClient talks to the HTTP disbursement service that serves the
// PayPal and wire rails.
type DisbursementClient struct {
	APIBaseURL string
	APIToken   string
	HTTPClient *http.Client
}

type disbursementRequest struct {
	ReferenceID string            `json:"reference_id"`
	Rail        string            `json:"rail"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Destination map[string]string `json:"destination"`
}

type disbursementResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewDisbursementClient(baseURL, token string) *DisbursementClient {
	return &DisbursementClient{
		APIBaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIToken:   strings.TrimSpace(token),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *DisbursementClient) Name() string { return ProviderDisbursement }

func (c *DisbursementClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if c.APIBaseURL == "" {
		return nil, errors.New("DISBURSEMENT_API_URL is not configured")
	}

	payload, err := json.Marshal(disbursementRequest{
		ReferenceID: req.PayoutID,
		Rail:        req.Rail,
		Amount:      req.Amount.StringFixed(2),
		Currency:    strings.ToUpper(req.Currency),
		Destination: req.Destination,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/disbursements", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderTransferError{Provider: ProviderDisbursement, Code: "network_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out disbursementResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(body))
		}
		code := out.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return nil, &ProviderTransferError{Provider: ProviderDisbursement, Code: code, Message: msg}
	}
	if out.Status == "failed" || out.Status == "rejected" {
		return nil, &ProviderTransferError{Provider: ProviderDisbursement, Code: out.Code, Message: out.Message}
	}
	if out.ID == "" {
		return nil, &ProviderTransferError{Provider: ProviderDisbursement, Code: "invalid_response", Message: "missing disbursement id"}
	}

	return &TransferResult{Success: true, Reference: out.ID, Provider: ProviderDisbursement, Status: out.Status}, nil
}
