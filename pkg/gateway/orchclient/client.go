// Package orchclient is the Gateway's client for the Orchestrator's internal
// RPC surface (spec §6): Ensure, Heartbeat, Evict over HTTP+JSON. Grounded
// on the teacher's dataplane.ConnPool for connection reuse (here, a shared
// *http.Client on the default Transport's keep-alive pool plays the same
// role a pooled grpc.ClientConn does).
package orchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/esb-platform/esb/pkg/esberrors"
	"github.com/esb-platform/esb/pkg/reqid"
)

// EnsureResponse mirrors the Orchestrator's /containers/ensure response.
type EnsureResponse struct {
	ContainerID string `json:"container_id"`
	Address     string `json:"address"`
}

// Client talks to one Orchestrator instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client. The http.Client reuses connections via the default
// Transport's keep-alive pool, avoiding a dial per RPC.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Ensure calls POST /containers/ensure {function_name}.
func (c *Client) Ensure(ctx context.Context, functionName string) (EnsureResponse, error) {
	var out EnsureResponse
	err := c.postJSON(ctx, "/containers/ensure", map[string]string{"function_name": functionName}, &out)
	return out, err
}

// Heartbeat calls POST /containers/heartbeat {ids}.
func (c *Client) Heartbeat(ctx context.Context, ids []string) error {
	return c.postJSON(ctx, "/containers/heartbeat", map[string]any{"ids": ids}, nil)
}

// Evict calls POST /containers/evict {container_id}.
func (c *Client) Evict(ctx context.Context, containerID string) error {
	return c.postJSON(ctx, "/containers/evict", map[string]string{"container_id": containerID}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("orchclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("orchclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := reqid.FromContext(ctx); ok {
		req.Header.Set(reqid.Header, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return esberrors.ErrUpstreamNetworkError
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusConflict:
		return esberrors.ErrAtCapacity
	case http.StatusNotFound:
		return esberrors.ErrGone
	case http.StatusServiceUnavailable:
		return esberrors.ErrAtCapacity
	default:
		return esberrors.ErrUpstreamServerError
	}
}
