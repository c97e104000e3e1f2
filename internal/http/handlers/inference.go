package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"imagegateway/internal/asyncjob"
	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
	"imagegateway/internal/middleware"
	"imagegateway/internal/storage"
)

// Predict serves the synchronous container route. Any mode in the body is
// ignored.
func (a *App) Predict(w http.ResponseWriter, r *http.Request) {
	var req domain.InferenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	req.Mode = domain.ModeSync
	resp, err := a.Router.Route(r.Context(), req, domain.Principal{})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, resp.Envelope)
}

// invocationRequest is the JSON body accepted on /invocations. The prompt may
// be inline or stored in an object referenced by input_s3_uri.
type invocationRequest struct {
	domain.InferenceRequest
	InputS3URI string `json:"input_s3_uri,omitempty"`
}

// Invocations is the route called by the managed inference platform for both
// real-time and asynchronous jobs. For async jobs the platform stores a 2xx
// body as the output object and anything else as the failure object, so every
// failure is rendered as a complete failure body.
func (a *App) Invocations(w http.ResponseWriter, r *http.Request) {
	env, err := a.invoke(w, r)
	if err != nil {
		kind := domain.KindOf(err)
		a.Logger.Warn().Err(err).
			Str("kind", kind).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("invocation failed")
		a.json(w, domain.HTTPStatus(err), codec.FailureBody{
			Error:   kind,
			Message: err.Error(),
			Status:  "failed",
			Metadata: map[string]any{
				"model":      a.ModelName,
				"error_type": kind,
			},
		})
		return
	}
	env.Metadata = map[string]any{
		"model":        a.ModelName,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"content_type": "image/" + env.Format,
	}
	a.json(w, http.StatusOK, env)
}

func (a *App) invoke(w http.ResponseWriter, r *http.Request) (*codec.Envelope, error) {
	req, err := a.readInvocation(w, r)
	if err != nil {
		return nil, err
	}
	req.Mode = domain.ModeSync
	resp, err := a.Router.Route(r.Context(), req, domain.Principal{})
	if err != nil {
		return nil, err
	}
	return resp.Envelope, nil
}

func (a *App) readInvocation(w http.ResponseWriter, r *http.Request) (domain.InferenceRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return domain.InferenceRequest{}, fmt.Errorf("%w: read body: %v", domain.ErrValidation, err)
		}
		return domain.InferenceRequest{Prompt: string(raw)}, nil
	}

	var in invocationRequest
	if err := decodeJSON(w, r, &in); err != nil {
		return domain.InferenceRequest{}, err
	}
	if strings.TrimSpace(in.Prompt) != "" || in.InputS3URI == "" {
		return in.InferenceRequest, nil
	}
	if a.Objects == nil {
		return domain.InferenceRequest{}, fmt.Errorf("%w: input_s3_uri is not supported here", domain.ErrValidation)
	}
	loc, err := storage.ParseLocation(in.InputS3URI)
	if err != nil {
		return domain.InferenceRequest{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	raw, err := a.Objects.Get(r.Context(), loc)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return domain.InferenceRequest{}, fmt.Errorf("%w: input %s not found", domain.ErrValidation, loc)
		}
		return domain.InferenceRequest{}, fmt.Errorf("%w: read input %s: %v", domain.ErrStorage, loc, err)
	}
	return asyncjob.ParseInput(raw)
}

type jobHandle struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	OutputLocation  string           `json:"output_location"`
	FailureLocation string           `json:"failure_location"`
}

func handleFor(job domain.AsyncJob) jobHandle {
	return jobHandle{
		JobID:           job.ID,
		Status:          job.Status,
		OutputLocation:  job.OutputLocation,
		FailureLocation: job.FailureLocation,
	}
}

// Generate is the authenticated gateway route. Sync requests return the image
// envelope; async requests return the job handle immediately.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req domain.InferenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	principal, _ := middleware.PrincipalFromContext(r.Context())
	resp, err := a.Router.Route(r.Context(), req, principal)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if resp.Job != nil {
		w.Header().Set("Location", "/jobs/"+resp.Job.ID)
		a.json(w, http.StatusAccepted, handleFor(*resp.Job))
		return
	}
	a.json(w, http.StatusOK, resp.Envelope)
}
