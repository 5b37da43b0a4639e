// Package apiclient is the HTTP client for the rollout controller API,
// used by the rolloutctl command.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rolloutd/rolloutd/internal/application"
	"github.com/rolloutd/rolloutd/internal/domain"
)

// Client talks to a rolloutd server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Submit(ctx context.Context, in application.SubmitInput) (domain.Rollout, error) {
	var out domain.Rollout
	err := c.do(ctx, http.MethodPost, "/v1/rollouts", in, &out)
	return out, err
}

func (c *Client) Promote(ctx context.Context, id string) (domain.Rollout, error) {
	var out domain.Rollout
	err := c.do(ctx, http.MethodPost, "/v1/rollouts/"+id+"/promote", nil, &out)
	return out, err
}

func (c *Client) Abort(ctx context.Context, id string) (domain.Rollout, error) {
	var out domain.Rollout
	err := c.do(ctx, http.MethodPost, "/v1/rollouts/"+id+"/abort", nil, &out)
	return out, err
}

func (c *Client) Resume(ctx context.Context, id string) (domain.Rollout, error) {
	var out domain.Rollout
	err := c.do(ctx, http.MethodPost, "/v1/rollouts/"+id+"/resume", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, id string, decisions int) (application.Status, error) {
	var out application.Status
	path := "/v1/rollouts/" + id
	if decisions > 0 {
		path += "?decisions=" + strconv.Itoa(decisions)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) List(ctx context.Context) ([]domain.Rollout, error) {
	var out []domain.Rollout
	err := c.do(ctx, http.MethodGet, "/v1/rollouts", nil, &out)
	return out, err
}

// Watch streams rollout updates until the rollout reaches a terminal
// state, the context ends, or the callback returns an error.
func (c *Client) Watch(ctx context.Context, id string, fn func(domain.Rollout) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/v1/rollouts/" + id + "/watch"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var r domain.Rollout
		if err := conn.ReadJSON(&r); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		if r.State.Terminal() {
			return nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
