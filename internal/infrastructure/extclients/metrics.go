package extclients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// MetricsClient fetches recent samples from the metrics gateway.
// Implements [domain.MetricsSource].
type MetricsClient struct {
	BaseURL string
	Client  *http.Client
}

func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: defaultTimeout},
	}
}

type sampleDTO struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

func (c *MetricsClient) Query(ctx context.Context, target string, metrics []string, window time.Duration) ([]domain.MetricSample, error) {
	q := url.Values{}
	q.Set("target", target)
	q.Set("metrics", strings.Join(metrics, ","))
	q.Set("window", window.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/samples?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("metrics gateway returned %s", resp.Status)
	}

	var dtos []sampleDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}

	samples := make([]domain.MetricSample, 0, len(dtos))
	for _, d := range dtos {
		samples = append(samples, domain.MetricSample{
			Target: target,
			Metric: d.Metric,
			Value:  d.Value,
			At:     d.At,
		})
	}
	return samples, nil
}
