package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"imagegateway/internal/codec"
	"imagegateway/internal/domain"
	"imagegateway/internal/gateway"
	"imagegateway/internal/storage"
)

type stubRouter struct {
	got []domain.InferenceRequest
	img []byte
}

func (s *stubRouter) Route(ctx context.Context, req domain.InferenceRequest, p domain.Principal) (*gateway.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.got = append(s.got, req)
	env, err := codec.Encode(&domain.InferenceResult{ImageBytes: s.img}, req.Prompt)
	if err != nil {
		return nil, err
	}
	return &gateway.Response{Mode: req.Mode, Envelope: env}, nil
}

func newTestApp(t *testing.T) (*App, *stubRouter, storage.ObjectStore) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	router := &stubRouter{img: buf.Bytes()}
	return &App{Router: router, Objects: objects, ModelName: "test-model", Logger: zerolog.Nop()}, router, objects
}

func TestInvocationsPlainText(t *testing.T) {
	app, router, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader("  a lighthouse at dusk\n"))
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	rec := httptest.NewRecorder()
	app.Invocations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(router.got) != 1 || router.got[0].Prompt != "a lighthouse at dusk" {
		t.Fatalf("unexpected routed requests: %+v", router.got)
	}
	if router.got[0].Mode != domain.ModeSync {
		t.Fatalf("mode = %q, want sync", router.got[0].Mode)
	}
}

func TestInvocationsInputObject(t *testing.T) {
	app, router, objects := newTestApp(t)
	loc := storage.Location{Bucket: "inputs", Key: "async/20240101T000000.000Z-abc.json"}
	if err := objects.Put(context.Background(), loc, []byte(`{"prompt":"a fox in snow","num_inference_steps":2}`), "application/json"); err != nil {
		t.Fatal(err)
	}

	body := `{"input_s3_uri":"` + loc.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Invocations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(router.got) != 1 || router.got[0].Prompt != "a fox in snow" || *router.got[0].Steps != 2 {
		t.Fatalf("unexpected routed requests: %+v", router.got)
	}
}

func TestInvocationsMissingInputObject(t *testing.T) {
	app, router, _ := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"input_s3_uri":"s3://inputs/missing.json"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Invocations(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body codec.FailureBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != domain.KindValidation || body.Status != "failed" || body.Metadata["error_type"] != domain.KindValidation {
		t.Fatalf("unexpected failure body: %+v", body)
	}
	if len(router.got) != 0 {
		t.Fatal("router called for missing input")
	}
}

func TestPredictEmptyBody(t *testing.T) {
	app, _, _ := newTestApp(t)
	rec := httptest.NewRecorder()
	app.Predict(rec, httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPingWithoutBackend(t *testing.T) {
	app, _, _ := newTestApp(t)
	rec := httptest.NewRecorder()
	app.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOpenAPISpecListsRoutes(t *testing.T) {
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(openAPISpec, &doc); err != nil {
		t.Fatalf("embedded openapi.json is not valid JSON: %v", err)
	}
	for _, p := range []string{"/ping", "/predict", "/invocations", "/generate", "/jobs/{id}", "/jobs/{id}/result"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("openapi.json missing path %s", p)
		}
	}
}
