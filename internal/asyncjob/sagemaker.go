package asyncjob

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/google/uuid"

	"imagegateway/internal/domain"
	"imagegateway/internal/storage"
)

// AsyncInvokeAPI is the subset of the SageMaker runtime client used for
// asynchronous submission.
type AsyncInvokeAPI interface {
	InvokeEndpointAsync(ctx context.Context, in *sagemakerruntime.InvokeEndpointAsyncInput, opts ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointAsyncOutput, error)
}

// SageMakerSubmitter submits jobs to an asynchronous inference endpoint. The
// endpoint decides the output and failure locations.
type SageMakerSubmitter struct {
	client   AsyncInvokeAPI
	endpoint string
}

func NewSageMakerSubmitter(client AsyncInvokeAPI, endpoint string) *SageMakerSubmitter {
	return &SageMakerSubmitter{client: client, endpoint: endpoint}
}

func (s *SageMakerSubmitter) Submit(ctx context.Context, input storage.Location) (Receipt, error) {
	out, err := s.client.InvokeEndpointAsync(ctx, &sagemakerruntime.InvokeEndpointAsyncInput{
		EndpointName:  aws.String(s.endpoint),
		InputLocation: aws.String(input.String()),
		ContentType:   aws.String("application/json"),
		Accept:        aws.String("application/json"),
		InferenceId:   aws.String(uuid.NewString()),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: invoke %s: %v", domain.ErrSubmission, s.endpoint, err)
	}
	outLoc, err := storage.ParseLocation(aws.ToString(out.OutputLocation))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: endpoint returned output location: %v", domain.ErrSubmission, err)
	}
	failLoc, err := storage.ParseLocation(aws.ToString(out.FailureLocation))
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: endpoint returned failure location: %v", domain.ErrSubmission, err)
	}
	return Receipt{
		JobID:           aws.ToString(out.InferenceId),
		OutputLocation:  outLoc,
		FailureLocation: failLoc,
	}, nil
}

var _ Submitter = (*SageMakerSubmitter)(nil)
