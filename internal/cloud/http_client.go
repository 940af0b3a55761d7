package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kiln/internal/services"
)

// HTTPDoer describes the HTTP client used by the provider client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient talks to a RunPod-style REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewHTTPClient constructs a provider client. A nil doer falls back to a
// client with the given timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, doer HTTPDoer) *HTTPClient {
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  doer,
	}
}

func (c *HTTPClient) CreatePod(ctx context.Context, spec CreatePodSpec) (*Pod, error) {
	if spec.GPUCount <= 0 {
		spec.GPUCount = 1
	}
	var pod Pod
	if err := c.do(ctx, http.MethodPost, "/pods", spec, &pod); err != nil {
		return nil, services.Wrap(services.ErrCloudProvider, "cloud", "create pod", spec.GPUTypeID, err)
	}
	return &pod, nil
}

func (c *HTTPClient) PodByID(ctx context.Context, id string) (*Pod, error) {
	var pod Pod
	if err := c.do(ctx, http.MethodGet, "/pods/"+id, nil, &pod); err != nil {
		return nil, services.Wrap(services.ErrCloudProvider, "cloud", "get pod", id, err)
	}
	return &pod, nil
}

func (c *HTTPClient) StartPod(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/pods/"+id+"/start", nil, nil); err != nil {
		return services.Wrap(services.ErrCloudProvider, "cloud", "start pod", id, err)
	}
	return nil
}

func (c *HTTPClient) StopPod(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodPost, "/pods/"+id+"/stop", nil, nil); err != nil {
		return services.Wrap(services.ErrCloudProvider, "cloud", "stop pod", id, err)
	}
	return nil
}

func (c *HTTPClient) TerminatePod(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/pods/"+id, nil, nil); err != nil {
		return services.Wrap(services.ErrCloudProvider, "cloud", "terminate pod", id, err)
	}
	return nil
}

func (c *HTTPClient) GPUTypes(ctx context.Context) ([]GPUType, error) {
	var types []GPUType
	if err := c.do(ctx, http.MethodGet, "/gputypes", nil, &types); err != nil {
		return nil, services.Wrap(services.ErrCloudProvider, "cloud", "list gpu types", "", err)
	}
	return types, nil
}

func (c *HTTPClient) NetworkVolumes(ctx context.Context) ([]NetworkVolume, error) {
	var volumes []NetworkVolume
	if err := c.do(ctx, http.MethodGet, "/networkvolumes", nil, &volumes); err != nil {
		return nil, services.Wrap(services.ErrCloudProvider, "cloud", "list network volumes", "", err)
	}
	return volumes, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s %s: %s", method, path, apiErrorDetail(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func apiErrorDetail(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.Status
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return fmt.Sprintf("%s: %s", resp.Status, payload.Error)
		}
		if payload.Message != "" {
			return fmt.Sprintf("%s: %s", resp.Status, payload.Message)
		}
	}
	return fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
