package domain

import (
	"errors"
	"strings"
	"testing"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestInferenceRequestValidate(t *testing.T) {
	tests := []struct {
		name     string
		req      InferenceRequest
		wantErr  bool
		wantMode Mode
	}{
		{name: "defaults", req: InferenceRequest{Prompt: "a cat astronaut on the moon"}, wantMode: ModeSync},
		{name: "async", req: InferenceRequest{Prompt: "x", Mode: ModeAsync}, wantMode: ModeAsync},
		{name: "empty prompt", req: InferenceRequest{Prompt: "   "}, wantErr: true},
		{name: "too long", req: InferenceRequest{Prompt: strings.Repeat("a", MaxPromptLength+1)}, wantErr: true},
		{name: "bad mode", req: InferenceRequest{Prompt: "x", Mode: "batch"}, wantErr: true},
		{name: "steps out of range", req: InferenceRequest{Prompt: "x", Params: Params{Steps: intPtr(0)}}, wantErr: true},
		{name: "guidance out of range", req: InferenceRequest{Prompt: "x", Params: Params{GuidanceScale: floatPtr(21)}}, wantErr: true},
		{name: "width not multiple", req: InferenceRequest{Prompt: "x", Params: Params{Width: intPtr(513)}}, wantErr: true},
		{name: "negative seed", req: InferenceRequest{Prompt: "x", Params: Params{Seed: int64Ptr(-1)}}, wantErr: true},
		{name: "explicit params", req: InferenceRequest{Prompt: "x", Params: Params{Steps: intPtr(4), GuidanceScale: floatPtr(1.5), Width: intPtr(768), Height: intPtr(1024), Seed: int64Ptr(7)}}, wantMode: ModeSync},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			err := req.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if req.Mode != tc.wantMode {
				t.Fatalf("mode = %q, want %q", req.Mode, tc.wantMode)
			}
		})
	}
}

func TestNormalizePrompt(t *testing.T) {
	// "e" + combining acute accent composes to a single rune under NFC.
	got := NormalizePrompt("  cafe\u0301  ")
	if got != "caf\u00e9" {
		t.Fatalf("NormalizePrompt = %q", got)
	}
}

func TestParamsResolveDefaults(t *testing.T) {
	r, err := Params{}.Resolve()
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if r.Steps != DefaultSteps || r.GuidanceScale != DefaultGuidanceScale || r.Width != DefaultImageSize || r.Height != DefaultImageSize {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if r.Seed != nil {
		t.Fatalf("expected nil seed")
	}
}

func TestJobStatusCanAdvance(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusSubmitted, JobStatusPending, true},
		{JobStatusSubmitted, JobStatusSucceeded, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusSubmitted, false},
		{JobStatusSucceeded, JobStatusFailed, false},
		{JobStatusFailed, JobStatusSucceeded, false},
		{JobStatusPending, JobStatusUnknown, false},
		{JobStatusPending, JobStatusPending, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanAdvance(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
