// Package codec converts image bytes to and from the JSON wire envelope
// {"image": <base64>} used by the sync response, the async output object and
// the managed endpoint.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"imagegateway/internal/domain"
)

var (
	ErrInvalidImage      = errors.New("codec: invalid image data")
	ErrMalformedEnvelope = errors.New("codec: malformed envelope")
)

// Size is the pixel size reported alongside an image.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Envelope is the JSON representation of an image result.
type Envelope struct {
	Image    string         `json:"image"`
	Format   string         `json:"format,omitempty"`
	Size     *Size          `json:"size,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Duration int64          `json:"duration_ms,omitempty"`
	Metadata map[string]any `json:"inference_metadata,omitempty"`
}

// Sniff decodes only the image header and reports the content type and size.
func Sniff(data []byte) (string, int, int, error) {
	if len(data) == 0 {
		return "", 0, 0, fmt.Errorf("%w: empty", ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", 0, 0, fmt.Errorf("%w: zero dimensions", ErrInvalidImage)
	}
	return "image/" + format, cfg.Width, cfg.Height, nil
}

// Encode builds the wire envelope for a result. The image bytes are checked
// before encoding so a truncated payload never reaches the wire.
func Encode(res *domain.InferenceResult, prompt string) (*Envelope, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil result", ErrInvalidImage)
	}
	contentType, w, h, err := Sniff(res.ImageBytes)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Image:    base64.StdEncoding.EncodeToString(res.ImageBytes),
		Format:   strings.TrimPrefix(contentType, "image/"),
		Size:     &Size{Width: w, Height: h},
		Prompt:   prompt,
		Duration: res.DurationMs(),
	}, nil
}

// Marshal encodes a result straight to JSON bytes.
func Marshal(res *domain.InferenceResult, prompt string) ([]byte, error) {
	env, err := Encode(res, prompt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode turns an envelope back into a result, validating the image header.
func Decode(env *Envelope) (*domain.InferenceResult, error) {
	if env == nil || strings.TrimSpace(env.Image) == "" {
		return nil, fmt.Errorf("%w: missing image field", ErrMalformedEnvelope)
	}
	data, err := base64.StdEncoding.DecodeString(env.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedEnvelope, err)
	}
	contentType, w, h, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	return &domain.InferenceResult{
		ImageBytes:  data,
		ContentType: contentType,
		Width:       w,
		Height:      h,
		Duration:    time.Duration(env.Duration) * time.Millisecond,
	}, nil
}

// Unmarshal parses raw JSON into a result.
func Unmarshal(raw []byte) (*domain.InferenceResult, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return Decode(&env)
}

// FailureBody is the JSON written for a failed request or job. It always
// carries an error kind and a message.
type FailureBody struct {
	Error    string         `json:"error"`
	Message  string         `json:"message"`
	Status   string         `json:"status,omitempty"`
	Metadata map[string]any `json:"inference_metadata,omitempty"`
}

// MarshalFailure classifies err and renders the failure JSON.
func MarshalFailure(err error) []byte {
	body := FailureBody{Error: domain.KindOf(err), Message: errorMessage(err), Status: "failed"}
	raw, mErr := json.Marshal(body)
	if mErr != nil {
		return []byte(`{"error":"internal_error","message":"failed to encode failure"}`)
	}
	return raw
}

// ParseFailure reads a failure object. Content that is not the expected JSON
// shape is kept verbatim in Raw.
func ParseFailure(raw []byte) domain.FailureDetail {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		errText, _ := body.Error.(string)
		switch {
		case errText != "" && body.Message != "":
			return domain.FailureDetail{Kind: errText, Message: body.Message}
		case errText != "" && domain.IsKind(errText):
			return domain.FailureDetail{Kind: errText, Message: errText}
		case errText != "":
			return domain.FailureDetail{Kind: domain.KindInference, Message: errText}
		case body.Message != "":
			return domain.FailureDetail{Kind: domain.KindInference, Message: body.Message}
		}
	}
	text := strings.TrimSpace(string(raw))
	return domain.FailureDetail{Kind: domain.KindInference, Message: text, Raw: text}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
