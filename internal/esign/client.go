// Package esign is a thin client for a DocuSeal-compatible e-signature API.
package esign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to the provider's REST API. The provider is the source of
// truth for submission status; this client only moves data.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// APIError carries the provider's HTTP status and message so callers can
// surface the provider-supplied text to users.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("e-signature provider returned %d", e.Status)
	}
	return e.Message
}

// Submitter is one signing party on a provider submission.
type Submitter struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	Slug        string     `json:"slug"`
	EmbedSrc    string     `json:"embed_src"`
	SentAt      *time.Time `json:"sent_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Submission is the provider's view of one sent-out template.
type Submission struct {
	ID          int64       `json:"id"`
	TemplateID  int64       `json:"template_id"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Submitters  []Submitter `json:"submitters"`
}

// SignerRequest names one party to include when creating a submission.
type SignerRequest struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
}

// CreateSubmission creates a submission for the given provider template and
// asks the provider to email the signers.
func (c *Client) CreateSubmission(ctx context.Context, templateID string, signers []SignerRequest) (Submission, error) {
	body := map[string]any{
		"template_id": templateID,
		"send_email":  true,
		"submitters":  signers,
	}
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/submissions", body, &out); err != nil {
		return Submission{}, err
	}
	return out, nil
}

// GetSubmission fetches current status for a submission.
func (c *Client) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var out Submission
	if err := c.do(ctx, http.MethodGet, "/submissions/"+submissionID, nil, &out); err != nil {
		return Submission{}, err
	}
	return out, nil
}

// SigningLink returns the one-time signing URL for the signer with the given
// email on a submission.
func (c *Client) SigningLink(ctx context.Context, submissionID, signerEmail string) (string, error) {
	sub, err := c.GetSubmission(ctx, submissionID)
	if err != nil {
		return "", err
	}
	for _, submitter := range sub.Submitters {
		if !strings.EqualFold(submitter.Email, signerEmail) {
			continue
		}
		if submitter.EmbedSrc != "" {
			return submitter.EmbedSrc, nil
		}
		if submitter.Slug != "" {
			return c.baseURL + "/s/" + submitter.Slug, nil
		}
	}
	return "", &APIError{Status: http.StatusNotFound, Message: fmt.Sprintf("no signer %s on submission %s", signerEmail, submissionID)}
}

// Remind asks the provider to re-send the signing request email to one signer.
func (c *Client) Remind(ctx context.Context, submissionID, signerEmail string) error {
	body := map[string]any{"email": signerEmail}
	return c.do(ctx, http.MethodPost, "/submissions/"+submissionID+"/remind", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Auth-Token", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		message := errBody.Error
		if message == "" {
			message = errBody.Message
		}
		return &APIError{Status: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
