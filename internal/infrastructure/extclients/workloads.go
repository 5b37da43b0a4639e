package extclients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WorkloadClient scales release targets over the workload manager's
// HTTP API. Implements [domain.WorkloadController].
type WorkloadClient struct {
	BaseURL string
	Client  *http.Client
}

func NewWorkloadClient(baseURL string) *WorkloadClient {
	return &WorkloadClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (c *WorkloadClient) SetReplicas(ctx context.Context, target string, count int) error {
	payload, err := json.Marshal(map[string]any{"replicas": count})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/workloads/"+target+"/scale", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("workload request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("workload manager rejected scale for %s: %s", target, resp.Status)
	}
	return nil
}
