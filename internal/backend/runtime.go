package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagegateway/internal/domain"
)

// RuntimeOptions configures a RuntimeClient.
type RuntimeOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// RuntimeClient drives a diffusion runtime sidecar that speaks the sdapi
// options/txt2img protocol. It is the Pipeline used when the model runs on
// this host.
type RuntimeClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewRuntimeClient(opts RuntimeOptions) *RuntimeClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "http://127.0.0.1:7860"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RuntimeClient{httpClient: client, baseURL: base}
}

type runtimeOptionsRequest struct {
	Checkpoint     string `json:"sd_model_checkpoint"`
	LocalFilesOnly bool   `json:"local_files_only"`
	Device         string `json:"device"`
	Precision      string `json:"precision"`
	Autocast       bool   `json:"autocast"`
}

type txt2imgRequest struct {
	Prompt   string  `json:"prompt"`
	Steps    int     `json:"steps"`
	CFGScale float64 `json:"cfg_scale"`
	Seed     int64   `json:"seed"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
	Error  string   `json:"error"`
	Detail any      `json:"detail"`
}

// Load pushes the model and device configuration to the runtime.
func (c *RuntimeClient) Load(ctx context.Context, src ModelSource, dev Device) error {
	body := runtimeOptionsRequest{
		Checkpoint:     src.ID,
		LocalFilesOnly: src.LocalOnly,
		Device:         string(dev.Kind),
		Precision:      dev.Precision,
		Autocast:       dev.Autocast,
	}
	_, err := c.post(ctx, "/sdapi/v1/options", body)
	return err
}

// Generate runs txt2img and returns the first image.
func (c *RuntimeClient) Generate(ctx context.Context, prompt string, params domain.Resolved, _ Device) ([]byte, error) {
	seed := int64(-1)
	if params.Seed != nil {
		seed = *params.Seed
	}
	raw, err := c.post(ctx, "/sdapi/v1/txt2img", txt2imgRequest{
		Prompt:   prompt,
		Steps:    params.Steps,
		CFGScale: params.GuidanceScale,
		Seed:     seed,
		Width:    params.Width,
		Height:   params.Height,
	})
	if err != nil {
		return nil, err
	}
	var out txt2imgResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("runtime: decode txt2img response: %w", err)
	}
	if len(out.Images) == 0 {
		if out.Error != "" {
			return nil, fmt.Errorf("runtime: %s", out.Error)
		}
		return nil, errors.New("runtime: no images were generated")
	}
	data, err := base64.StdEncoding.DecodeString(out.Images[0])
	if err != nil {
		return nil, fmt.Errorf("runtime: decode image: %w", err)
	}
	return data, nil
}

func (c *RuntimeClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runtime: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: runtime rejected parameters: %s", domain.ErrValidation, strings.TrimSpace(string(raw)))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("runtime: http %d: %s", resp.StatusCode, domain.Truncate(strings.TrimSpace(string(raw)), 200))
	}
	return raw, nil
}

var _ Pipeline = (*RuntimeClient)(nil)
