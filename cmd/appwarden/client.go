package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/appwarden/internal/admin/api"
	"github.com/goodtune/appwarden/internal/config"
)

// errAdminUnavailable is returned when no daemon answers on the admin port.
var errAdminUnavailable = errors.New("admin API unavailable")

// adminClient talks to a running daemon's admin API.
type adminClient struct {
	baseURL string
	client  *http.Client
}

func newAdminClient(cfg *config.Config) *adminClient {
	host := cfg.Server.BindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &adminClient{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.AdminPort)),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// do sends a request without a body and decodes a JSON response into out.
func (c *adminClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errAdminUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
