package tunneld

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable is returned when tunneld cannot be reached
var ErrUnavailable = errors.New("tunneld unavailable")

// DefaultBaseURL is tunneld's default listen address
const DefaultBaseURL = "http://127.0.0.1:49151"

// Client polls the tunnel daemon for device reachability. Workers need the
// device visible to tunneld before the activation exchange can start.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a tunneld client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Connected reports whether tunneld currently exposes the device
func (c *Client) Connected(ctx context.Context, udid string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var tunnels map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&tunnels); err != nil {
		return false, fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}

	_, ok := tunnels[udid]
	return ok, nil
}

// WaitForDevice polls until the device shows up or ctx ends
func (c *Client) WaitForDevice(ctx context.Context, udid string, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ok, err := c.Connected(ctx, udid); err == nil && ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("device %s never appeared in tunneld: %w", udid, ctx.Err())
		}
	}
}

// Reachable reports whether tunneld itself answers
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
