package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
)

// InvokeAPI is the subset of the SageMaker runtime client used for
// synchronous invocation.
type InvokeAPI interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, opts ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// EndpointPipeline is the Pipeline used when the gateway fronts a managed
// endpoint instead of hosting the model itself.
type EndpointPipeline struct {
	client   InvokeAPI
	endpoint string
}

func NewEndpointPipeline(client InvokeAPI, endpoint string) *EndpointPipeline {
	return &EndpointPipeline{client: client, endpoint: endpoint}
}

// Load checks configuration only; the managed endpoint owns its weights.
func (p *EndpointPipeline) Load(context.Context, ModelSource, Device) error {
	if p.client == nil || p.endpoint == "" {
		return errors.New("endpoint: client and endpoint name are required")
	}
	return nil
}

type endpointRequest struct {
	Prompt        string  `json:"prompt"`
	Steps         int     `json:"num_inference_steps"`
	GuidanceScale float64 `json:"guidance_scale"`
	Seed          *int64  `json:"seed,omitempty"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
}

func (p *EndpointPipeline) Generate(ctx context.Context, prompt string, params domain.Resolved, _ Device) ([]byte, error) {
	body, err := json.Marshal(endpointRequest{
		Prompt:        prompt,
		Steps:         params.Steps,
		GuidanceScale: params.GuidanceScale,
		Seed:          params.Seed,
		Width:         params.Width,
		Height:        params.Height,
	})
	if err != nil {
		return nil, err
	}
	out, err := p.client.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(p.endpoint),
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint: invoke %s: %w", p.endpoint, err)
	}
	res, err := codec.Unmarshal(out.Body)
	if err != nil {
		return nil, fmt.Errorf("endpoint: decode response: %w", err)
	}
	return res.ImageBytes, nil
}

var _ Pipeline = (*EndpointPipeline)(nil)
