// Package extclients provides HTTP adapters for the controller's
// external ports: the traffic router, the workload scaler, and the
// metrics gateway.
package extclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// RouterClient drives a weighted traffic router over its HTTP API.
// Implements [domain.TrafficRouter].
type RouterClient struct {
	BaseURL string
	Client  *http.Client
}

func NewRouterClient(baseURL string) *RouterClient {
	return &RouterClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (c *RouterClient) SetWeights(ctx context.Context, stableTarget, candidateTarget string, stableWeight, candidateWeight int) error {
	payload, err := json.Marshal(map[string]any{
		"backends": []map[string]any{
			{"target": stableTarget, "weight": stableWeight},
			{"target": candidateTarget, "weight": candidateWeight},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/weights", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("router request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("router rejected weights: %s", resp.Status)
	}
	return nil
}
