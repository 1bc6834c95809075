package client

import (
	"context"
	"fmt"
	"net/url"
)

// IdentityClient resolves the roles a user holds. Authentication itself is
// the platform's concern; this service only consults identity to sanity-check
// that a decision's actor actually holds the role it claims.
type IdentityClient struct {
	client *httpClient
}

// NewIdentityClient creates a new identity service client.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{client: newHTTPClient(baseURL)}
}

type userRolesResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// GetUserRoles returns the hub roles a user holds.
func (c *IdentityClient) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	var resp userRolesResponse
	path := "/api/v1/identity/roles?user_id=" + url.QueryEscape(userID)
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve user roles: %w", err)
	}
	return resp.Roles, nil
}
