// Package groups asks the chat service whether a user belongs to a group
// conversation, which is what lets members join a group call uninvited.
package groups

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotConfigured = errors.New("groups: membership client is not configured")

// Client implements calls.GroupMembership over HTTP:
// GET {base}/groups/{ref}/members/{user} answers 200 for members and 404 otherwise.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

// NewClient returns nil when baseURL is empty.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "call-signaling/1.0").
		SetTimeout(timeout)

	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) IsEnabled() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) IsMember(ctx context.Context, groupChatRef, userID string) (bool, error) {
	if !c.IsEnabled() {
		return false, ErrNotConfigured
	}
	if groupChatRef == "" || userID == "" {
		return false, nil
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"ref": groupChatRef, "user": userID}).
		Get("/groups/{ref}/members/{user}")
	if err != nil {
		return false, fmt.Errorf("groups: membership request failed: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("groups: membership error (%d): %s", resp.StatusCode(), resp.String())
	}
}
