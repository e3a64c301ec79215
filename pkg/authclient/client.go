// Package authclient is the client half of session handling: an HTTP
// client for the auth service plus a coordinator that guarantees at most
// one refresh call is in flight process-wide, no matter how many request
// goroutines hit an expired access token at the same moment.
package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(authServiceURL string) *Client {
	return &Client{
		baseURL: authServiceURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

// Refresh exchanges the refresh cookie for a new access token. The rotated
// refresh cookie rides back on the response and is applied by the caller's
// cookie jar.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: refreshToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh failed with status: %d", resp.StatusCode)
	}

	var result RefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Coordinator collapses concurrent refresh demands into one network call.
// All callers waiting on an in-flight refresh receive that call's outcome,
// success or failure, and the slot is clear for the next attempt as soon
// as the call finishes.
type Coordinator struct {
	client *Client
	group  singleflight.Group
}

func NewCoordinator(client *Client) *Coordinator {
	return &Coordinator{client: client}
}

func (co *Coordinator) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	v, err, _ := co.group.Do("refresh", func() (any, error) {
		return co.client.Refresh(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RefreshResponse), nil
}
