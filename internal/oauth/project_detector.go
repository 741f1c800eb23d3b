package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const resourceManagerURL = "https://cloudresourcemanager.googleapis.com/v1/projects"

// GoogleProjectDiscoverer lists the Cloud projects a fresh Google token can
// reach. Accounts store the id list so the selector can expand per-project
// candidates.
type GoogleProjectDiscoverer struct {
	client  *http.Client
	listURL string
}

// NewGoogleProjectDiscoverer builds the production discoverer.
func NewGoogleProjectDiscoverer(client *http.Client) *GoogleProjectDiscoverer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &GoogleProjectDiscoverer{client: client, listURL: resourceManagerURL}
}

// NewGoogleProjectDiscovererForTest points discovery at an httptest server.
func NewGoogleProjectDiscovererForTest(client *http.Client, listURL string) *GoogleProjectDiscoverer {
	d := NewGoogleProjectDiscoverer(client)
	d.listURL = listURL
	return d
}

// DiscoverProjects returns the ACTIVE project ids visible to accessToken.
func (d *GoogleProjectDiscoverer) DiscoverProjects(ctx context.Context, accessToken string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: build project list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauth: list projects: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, fmt.Errorf("oauth: list projects: 403 (missing resourcemanager.projects.list)")
	case http.StatusUnauthorized:
		return nil, fmt.Errorf("oauth: list projects: 401 (token invalid or expired)")
	default:
		return nil, fmt.Errorf("oauth: list projects: status %d", resp.StatusCode)
	}

	var result struct {
		Projects []struct {
			ProjectID string `json:"projectId"`
			State     string `json:"lifecycleState"`
		} `json:"projects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("oauth: decode project list: %w", err)
	}

	ids := make([]string, 0, len(result.Projects))
	for _, p := range result.Projects {
		if p.State != "" && p.State != "ACTIVE" {
			continue
		}
		if p.ProjectID != "" {
			ids = append(ids, p.ProjectID)
		}
	}
	log.WithField("count", len(ids)).Debug("google project discovery complete")
	return ids, nil
}
