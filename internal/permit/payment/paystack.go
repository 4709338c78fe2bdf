package payment

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

const (
	defaultTimeout = 15 * time.Second
	defaultBaseURL = "https://api.paystack.co"
	maxErrorBody   = 4 << 10
)

// PaystackClient initiates transactions through the Paystack API.
// See https://paystack.com/docs/api/transaction/#initialize.
type PaystackClient struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	HTTPClient  *http.Client
}

// NewPaystackClient returns a client that uses the given secret key and optional base and callback URLs.
func NewPaystackClient(secretKey, baseURL, callbackURL string) *PaystackClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &PaystackClient{
		SecretKey:   secretKey,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		CallbackURL: callbackURL,
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
	}
}

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// Initiate calls POST /transaction/initialize. Every failure is returned as a *Error.
func (c *PaystackClient) Initiate(ctx context.Context, req Request) (*Response, error) {
	if c.SecretKey == "" {
		return nil, &Error{Class: ClassPaymentService, Message: "paystack secret key not configured"}
	}
	raw, err := json.Marshal(initializeRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Reference:   req.Reference,
		Currency:    "NGN",
		CallbackURL: c.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, &Error{Class: ClassUnknown, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transaction/initialize", bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Class: ClassUnknown, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, providerMessage(b))
	}
	var out initializeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Classify(fmt.Errorf("decoding paystack response: %w", err))
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, &Error{Class: ClassPaymentService, StatusCode: resp.StatusCode, Message: out.Message, Err: errors.New("paystack rejected initialization")}
	}
	return &Response{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        out.Data.Reference,
	}, nil
}

func providerMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return msg.Message
	}
	return strings.TrimSpace(string(body))
}
