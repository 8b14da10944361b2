package v1

import (
	"context"
	"net/http"

	"github.com/duynhne/portfolio-client/internal/core/domain"
)

// ContactClient submits contact form messages to /api/contact.
type ContactClient struct {
	baseURL string
	http    *http.Client
}

// NewContactClient creates a ContactClient on the pipeline client.
func NewContactClient(baseURL string, httpClient *http.Client) *ContactClient {
	return &ContactClient{baseURL: baseURL, http: httpClient}
}

// Send delivers a contact message.
func (c *ContactClient) Send(ctx context.Context, req domain.ContactRequest) (*domain.ContactResponse, error) {
	var out domain.ContactResponse
	if err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/contact", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
