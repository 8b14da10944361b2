package v1

import (
	"context"
	"fmt"
	"net/http"

	"github.com/duynhne/portfolio-client/internal/core/domain"
)

// ProjectsClient talks to the /api/projects CRUD surface. Mutating
// calls require an authenticated session; the pipeline handles that.
type ProjectsClient struct {
	baseURL string
	http    *http.Client
}

// NewProjectsClient creates a ProjectsClient on the pipeline client.
func NewProjectsClient(baseURL string, httpClient *http.Client) *ProjectsClient {
	return &ProjectsClient{baseURL: baseURL, http: httpClient}
}

// List returns all projects.
func (c *ProjectsClient) List(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	if err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/api/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Featured returns the projects highlighted on the homepage.
func (c *ProjectsClient) Featured(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	if err := doJSON(ctx, c.http, http.MethodGet, c.baseURL+"/api/projects/featured", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single project by ID.
func (c *ProjectsClient) Get(ctx context.Context, id int) (*domain.Project, error) {
	var out domain.Project
	if err := doJSON(ctx, c.http, http.MethodGet, fmt.Sprintf("%s/api/projects/%d", c.baseURL, id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create adds a new project. Requires authentication.
func (c *ProjectsClient) Create(ctx context.Context, p domain.Project) (*domain.Project, error) {
	var out domain.Project
	if err := doJSON(ctx, c.http, http.MethodPost, c.baseURL+"/api/projects", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces an existing project. Requires authentication.
func (c *ProjectsClient) Update(ctx context.Context, id int, p domain.Project) (*domain.Project, error) {
	var out domain.Project
	if err := doJSON(ctx, c.http, http.MethodPut, fmt.Sprintf("%s/api/projects/%d", c.baseURL, id), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a project. Requires authentication.
func (c *ProjectsClient) Delete(ctx context.Context, id int) error {
	return doJSON(ctx, c.http, http.MethodDelete, fmt.Sprintf("%s/api/projects/%d", c.baseURL, id), nil, nil)
}
