package identity

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

	"github.com/google/uuid"
)

// RandomIssuer assigns version 4 UUIDs locally. It stands in for the document
// registry when none is configured.
type RandomIssuer struct{}

// IssuePropertyID returns a fresh random identifier.
func (RandomIssuer) IssuePropertyID(context.Context) (uuid.UUID, error) {
	return uuid.NewRandom()
}

// HTTPIssuer requests property identifiers from a remote registry. The
// registry answers POST requests with {"id": "<uuid>"}.
type HTTPIssuer struct {
	endpoint string
	token    string
	client   *http.Client
}

// Option mutates issuer configuration.
type Option func(*HTTPIssuer)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(i *HTTPIssuer) {
		if client != nil {
			i.client = client
		}
	}
}

// WithBearerToken authenticates requests to the registry.
func WithBearerToken(token string) Option {
	return func(i *HTTPIssuer) {
		i.token = strings.TrimSpace(token)
	}
}

// NewHTTPIssuer constructs an issuer bound to endpoint.
func NewHTTPIssuer(endpoint string, opts ...Option) (*HTTPIssuer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("identity: endpoint required")
	}
	issuer := &HTTPIssuer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

type issueResponse struct {
	ID string `json:"id"`
}

// IssuePropertyID performs a single registry call. Retrying is left to the
// caller.
func (i *HTTPIssuer) IssuePropertyID(ctx context.Context) (uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return uuid.Nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if i.token != "" {
		req.Header.Set("Authorization", "Bearer "+i.token)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return uuid.Nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return uuid.Nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return uuid.Nil, fmt.Errorf("identity: registry returned status %d", resp.StatusCode)
	}
	var payload issueResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return uuid.Nil, fmt.Errorf("identity: decode response: %w", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(payload.ID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity: invalid id: %w", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, errors.New("identity: registry returned nil id")
	}
	return id, nil
}
