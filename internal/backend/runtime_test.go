package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/rs/zerolog"

	"imagegateway/internal/domain"
)

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestRuntimeClientLoadAndGenerate(t *testing.T) {
	img := testImage(t)
	var loaded runtimeOptionsRequest
	var gen txt2imgRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sdapi/v1/options":
			if err := json.NewDecoder(r.Body).Decode(&loaded); err != nil {
				t.Errorf("decode options: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		case "/sdapi/v1/txt2img":
			if err := json.NewDecoder(r.Body).Decode(&gen); err != nil {
				t.Errorf("decode txt2img: %v", err)
			}
			_ = json.NewEncoder(w).Encode(txt2imgResponse{Images: []string{base64.StdEncoding.EncodeToString(img)}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	client := NewRuntimeClient(RuntimeOptions{BaseURL: ts.URL + "/"})
	dev := deviceFor(DeviceCUDA)
	if err := client.Load(context.Background(), ModelSource{ID: "/opt/ml/model", LocalOnly: true}, dev); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.Checkpoint != "/opt/ml/model" || !loaded.LocalFilesOnly || loaded.Device != "cuda" || loaded.Precision != "float16" || !loaded.Autocast {
		t.Fatalf("unexpected options payload: %+v", loaded)
	}

	params, _ := domain.Params{}.Resolve()
	data, err := client.Generate(context.Background(), "a cat", params, dev)
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !bytes.Equal(data, img) {
		t.Fatalf("image bytes mismatch")
	}
	if gen.Prompt != "a cat" || gen.Steps != domain.DefaultSteps || gen.Seed != -1 || gen.Width != 512 {
		t.Fatalf("unexpected txt2img payload: %+v", gen)
	}
}

func TestRuntimeClientErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantValid bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"detail":"bad steps"}`, wantValid: true},
		{name: "no images", status: http.StatusOK, body: `{"images":[]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()
			client := NewRuntimeClient(RuntimeOptions{BaseURL: ts.URL})
			params, _ := domain.Params{}.Resolve()
			_, err := client.Generate(context.Background(), "x", params, deviceFor(DeviceCPU))
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, domain.ErrValidation); got != tc.wantValid {
				t.Fatalf("validation classification = %v, want %v (%v)", got, tc.wantValid, err)
			}
		})
	}
}

type fakeInvoker struct {
	in   *sagemakerruntime.InvokeEndpointInput
	body []byte
	err  error
}

func (f *fakeInvoker) InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: f.body}, nil
}

func TestEndpointPipeline(t *testing.T) {
	img := testImage(t)
	env, _ := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(img)})
	inv := &fakeInvoker{body: env}
	p := NewEndpointPipeline(inv, "sdxl-turbo")
	if err := p.Load(context.Background(), ModelSource{}, deviceFor(DeviceRemote)); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	params, _ := domain.Params{}.Resolve()
	data, err := p.Generate(context.Background(), "a cat", params, deviceFor(DeviceRemote))
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !bytes.Equal(data, img) {
		t.Fatalf("image mismatch")
	}
	if aws.ToString(inv.in.EndpointName) != "sdxl-turbo" {
		t.Fatalf("endpoint name = %q", aws.ToString(inv.in.EndpointName))
	}
	var sent endpointRequest
	if err := json.Unmarshal(inv.in.Body, &sent); err != nil || sent.Prompt != "a cat" {
		t.Fatalf("unexpected body %s: %v", inv.in.Body, err)
	}

	inv.err = errors.New("ModelError")
	if _, err := p.Generate(context.Background(), "a cat", params, deviceFor(DeviceRemote)); err == nil {
		t.Fatalf("expected invoke error")
	}
	if err := NewEndpointPipeline(nil, "").Load(context.Background(), ModelSource{}, Device{}); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestResolveModelSource(t *testing.T) {
	logger := zerolog.Nop()

	packaged := t.TempDir()
	if err := os.WriteFile(filepath.Join(packaged, "model_index.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ResolveModelSource(packaged, "", "", logger); got != (ModelSource{ID: packaged, LocalOnly: true}) {
		t.Fatalf("packaged dir: %+v", got)
	}

	loose := t.TempDir()
	if err := os.WriteFile(filepath.Join(loose, "unet.safetensors"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := ResolveModelSource(loose, "", "", logger); got != (ModelSource{ID: loose, LocalOnly: true}) {
		t.Fatalf("loose dir: %+v", got)
	}

	if got := ResolveModelSource(t.TempDir(), "", "s3://models/sdxl.tar.gz", logger); got != (ModelSource{ID: DefaultModelID}) {
		t.Fatalf("empty dir fallback: %+v", got)
	}
	if got := ResolveModelSource("/does/not/exist", "org/custom", "", logger); got != (ModelSource{ID: "org/custom"}) {
		t.Fatalf("custom hub id: %+v", got)
	}
}
