package esignClient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"go.uber.org/zap"
)

// ClientConfig holds the configuration for the esign client
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retry applies to read-only calls only; OTP requests and signing are
	// never retried
	Retry  transport.RetryConfig
	Logger *zap.Logger
}

// Client is a typed HTTP client for the signing server
type Client struct {
	baseURL    string
	token      string
	retry      transport.RetryConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
	State      string
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.State, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = transport.DefaultRetryConfig
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		retry:      retry,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

// SignRequest describes a document to sign. Set exactly one of TemplateID or
// Document.
type SignRequest struct {
	SignerID      string
	DocumentID    string
	SignerName    string
	ContractTitle string
	OTP           string
	TemplateID    string
	Document      []byte
	DocumentName  string
	Rubric        []byte
	RubricName    string
}

// RequestOTP asks the server to issue and deliver a one-time code
func (c *Client) RequestOTP(ctx context.Context, signerID, method, recipient string) (*types.RequestOTPResponse, error) {
	body, err := json.Marshal(types.RequestOTPRequest{SignerID: signerID, Method: method, Recipient: recipient})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out types.RequestOTPResponse
	if err := c.do(ctx, http.MethodPost, "/v1/otp", "application/json", body, true, &out); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("One-time code requested", "method", method, "expires_at", out.ExpiresAt)
	return &out, nil
}

// SignDocument submits a signing transaction
func (c *Client) SignDocument(ctx context.Context, req *SignRequest) (*types.SignDocumentResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{types.FormFieldSignerID, req.SignerID},
		{types.FormFieldDocumentID, req.DocumentID},
		{types.FormFieldSignerName, req.SignerName},
		{types.FormFieldContractTitle, req.ContractTitle},
		{types.FormFieldOTP, req.OTP},
		{types.FormFieldTemplateID, req.TemplateID},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}
	if req.Document != nil {
		if err := writeFile(mw, types.FormFileDocument, nameOr(req.DocumentName, "document.pdf"), req.Document); err != nil {
			return nil, err
		}
	}
	if req.Rubric != nil {
		if err := writeFile(mw, types.FormFileRubric, nameOr(req.RubricName, "rubric.png"), req.Rubric); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	var out types.SignDocumentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/documents/sign", mw.FormDataContentType(), buf.Bytes(), true, &out); err != nil {
		return nil, err
	}
	c.logger.Sugar().Infow("Document signed", "document_id", out.DocumentID, "signature_id", out.SignatureID)
	return &out, nil
}

// GetEvidence fetches the first record matching term
func (c *Client) GetEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	var out types.EvidenceRecord
	if err := c.get(ctx, "/v1/evidence/"+url.PathEscape(term), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListEvidence fetches every record matching term
func (c *Client) ListEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	var out []*types.EvidenceRecord
	if err := c.get(ctx, "/v1/evidence/"+url.PathEscape(term)+"?all=true", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyEvidence asks the server to recheck the record matching term
func (c *Client) VerifyEvidence(ctx context.Context, term string) (*types.VerifyEvidenceResponse, error) {
	var out types.VerifyEvidenceResponse
	if err := c.get(ctx, "/v1/evidence/"+url.PathEscape(term)+"/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns nil when the server reports healthy
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

// get retries transient failures; 4xx responses are returned at once
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, path, "", nil, false, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return transport.Permanent(apiErr)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, authenticated bool, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authenticated && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody types.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if jsonErr := json.Unmarshal(data, &errBody); jsonErr != nil || errBody.Error == "" {
			errBody.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Error, State: errBody.State}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func writeFile(mw *multipart.Writer, field, name string, data []byte) error {
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s part: %w", field, err)
	}
	return nil
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
