package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Mode selects the delivery path for a request.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Generation defaults tuned for a single-step turbo model.
const (
	DefaultSteps         = 10
	DefaultGuidanceScale = 0.0
	DefaultImageSize     = 512

	MinSteps          = 1
	MaxSteps          = 50
	MinGuidanceScale  = 0.0
	MaxGuidanceScale  = 20.0
	MinImageSize      = 256
	MaxImageSize      = 1024
	ImageSizeMultiple = 8

	MaxPromptLength = 1000
)

// Params are the optional generation parameters of a request.
type Params struct {
	Steps         *int     `json:"num_inference_steps,omitempty"`
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Width         *int     `json:"width,omitempty"`
	Height        *int     `json:"height,omitempty"`
}

// Resolved is Params with defaults applied.
type Resolved struct {
	Steps         int
	GuidanceScale float64
	Seed          *int64
	Width         int
	Height        int
}

// InferenceRequest is immutable once accepted by the router.
type InferenceRequest struct {
	Prompt string `json:"prompt"`
	Params
	Mode Mode `json:"mode,omitempty"`
}

// InferenceResult is produced once per successful backend call.
type InferenceResult struct {
	ImageBytes  []byte
	ContentType string
	Width       int
	Height      int
	Duration    time.Duration
}

// DurationMs reports the inference duration in milliseconds.
func (r *InferenceResult) DurationMs() int64 {
	if r == nil {
		return 0
	}
	return r.Duration.Milliseconds()
}

// NormalizePrompt NFC-normalizes and trims a prompt.
func NormalizePrompt(prompt string) string {
	return strings.TrimSpace(norm.NFC.String(prompt))
}

// Validate normalizes the prompt and checks every parameter against its
// supported range.
func (r *InferenceRequest) Validate() error {
	r.Prompt = NormalizePrompt(r.Prompt)
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(r.Prompt); n > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d", ErrValidation, n, MaxPromptLength)
	}
	switch r.Mode {
	case "":
		r.Mode = ModeSync
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("%w: unsupported mode %q", ErrValidation, r.Mode)
	}
	_, err := r.Params.Resolve()
	return err
}

// Resolve applies defaults and validates ranges.
func (p Params) Resolve() (Resolved, error) {
	out := Resolved{
		Steps:         DefaultSteps,
		GuidanceScale: DefaultGuidanceScale,
		Width:         DefaultImageSize,
		Height:        DefaultImageSize,
		Seed:          p.Seed,
	}
	if p.Steps != nil {
		out.Steps = *p.Steps
	}
	if p.GuidanceScale != nil {
		out.GuidanceScale = *p.GuidanceScale
	}
	if p.Width != nil {
		out.Width = *p.Width
	}
	if p.Height != nil {
		out.Height = *p.Height
	}
	if out.Steps < MinSteps || out.Steps > MaxSteps {
		return out, fmt.Errorf("%w: num_inference_steps %d must be between %d and %d",
			ErrValidation, out.Steps, MinSteps, MaxSteps)
	}
	if out.GuidanceScale < MinGuidanceScale || out.GuidanceScale > MaxGuidanceScale {
		return out, fmt.Errorf("%w: guidance_scale %.2f must be between %.1f and %.1f",
			ErrValidation, out.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}
	for _, dim := range []struct {
		name string
		v    int
	}{{"width", out.Width}, {"height", out.Height}} {
		if dim.v < MinImageSize || dim.v > MaxImageSize || dim.v%ImageSizeMultiple != 0 {
			return out, fmt.Errorf("%w: %s %d must be between %d and %d and divisible by %d",
				ErrValidation, dim.name, dim.v, MinImageSize, MaxImageSize, ImageSizeMultiple)
		}
	}
	if out.Seed != nil && *out.Seed < 0 {
		return out, fmt.Errorf("%w: seed must be non-negative", ErrValidation)
	}
	return out, nil
}

// Principal is derived from a verified credential and never persisted.
type Principal struct {
	Subject string
	Expiry  time.Time
	Scopes  []string
}

// HasScope reports whether the principal carries scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Truncate shortens s to at most n runes for log output.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
