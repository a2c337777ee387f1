package quality

import (
	"errors"
	"strings"
	"testing"

	"github.com/mcosta/docingest-back/internal/domain"
)

func TestValidateNormalizesPayload(t *testing.T) {
	validator := NewCallbackValidator()

	payload := domain.CallbackPayload{
		DocumentID: "  doc-1  ",
		Result: domain.ProcessingResult{
			Success:        true,
			ProcessingTime: -4,
			ExtractedText:  "  body text  ",
			Summary:        " summary ",
			Keywords:       []string{" alpha ", "", "beta"},
			Errors:         []string{"leftover from a retry"},
		},
	}

	validated, err := validator.Validate(payload)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if validated.DocumentID != "doc-1" {
		t.Fatalf("expected trimmed document id, got %q", validated.DocumentID)
	}
	if validated.Result.ExtractedText != "body text" || validated.Result.Summary != "summary" {
		t.Fatalf("expected trimmed text fields, got %+v", validated.Result)
	}
	if len(validated.Result.Keywords) != 2 {
		t.Fatalf("expected empty keywords dropped, got %v", validated.Result.Keywords)
	}
	if validated.Result.ProcessingTime != 0 {
		t.Fatalf("expected negative processing time clamped, got %v", validated.Result.ProcessingTime)
	}
	if validated.Result.Errors != nil {
		t.Fatalf("expected errors cleared on success, got %v", validated.Result.Errors)
	}
}

func TestValidateRejections(t *testing.T) {
	validator := NewCallbackValidator()

	cases := []struct {
		name    string
		payload domain.CallbackPayload
	}{
		{
			name:    "missing document id",
			payload: domain.CallbackPayload{Result: domain.ProcessingResult{Success: true, Summary: "x"}},
		},
		{
			name: "success without content",
			payload: domain.CallbackPayload{
				DocumentID: "doc-1",
				Result:     domain.ProcessingResult{Success: true},
			},
		},
		{
			name: "failure without errors",
			payload: domain.CallbackPayload{
				DocumentID: "doc-1",
				Result:     domain.ProcessingResult{Success: false},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := validator.Validate(tc.payload); !errors.Is(err, ErrInvalidCallback) {
				t.Fatalf("expected ErrInvalidCallback, got %v", err)
			}
		})
	}
}

func TestValidateMasksPIIInFailureMessages(t *testing.T) {
	validator := NewCallbackValidator()

	payload := domain.CallbackPayload{
		DocumentID: "doc-1",
		Result: domain.ProcessingResult{
			Success: false,
			Errors:  []string{"could not parse page containing jane.doe@example.com"},
		},
	}

	validated, err := validator.Validate(payload)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if strings.Contains(validated.Result.Errors[0], "example.com") {
		t.Fatalf("expected email redacted, got %q", validated.Result.Errors[0])
	}
	if !strings.Contains(validated.Result.Errors[0], "[email_redacted]") {
		t.Fatalf("expected redaction marker, got %q", validated.Result.Errors[0])
	}
}

func TestMaskPII(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "email",
			input: "contact john@corp.io for details",
			want:  "contact [email_redacted] for details",
		},
		{
			name:  "card number keeps last four",
			input: "card 4111 1111 1111 1234 on file",
			want:  "card **** **** **** 1234 on file",
		},
		{
			name:  "clean text untouched",
			input: "nothing sensitive here",
			want:  "nothing sensitive here",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaskPII(tc.input); got != tc.want {
				t.Fatalf("MaskPII(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
