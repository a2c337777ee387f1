package quality

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mcosta/docingest-back/internal/domain"
)

// ErrInvalidCallback marks a worker callback payload rejected at the
// boundary.
var ErrInvalidCallback = errors.New("invalid callback payload")

// CallbackValidator normalizes and validates inbound worker callbacks before
// they reach the lifecycle, so malformed payloads never end up in ingestion
// logs.
type CallbackValidator struct{}

func NewCallbackValidator() *CallbackValidator {
	return &CallbackValidator{}
}

// Validate returns a normalized copy of the payload or a wrapped
// ErrInvalidCallback.
func (v *CallbackValidator) Validate(payload domain.CallbackPayload) (domain.CallbackPayload, error) {
	payload.DocumentID = strings.TrimSpace(payload.DocumentID)
	if payload.DocumentID == "" {
		return domain.CallbackPayload{}, fmt.Errorf("%w: document_id is required", ErrInvalidCallback)
	}

	result := payload.Result
	result.ExtractedText = strings.TrimSpace(result.ExtractedText)
	result.OCRText = strings.TrimSpace(result.OCRText)
	result.Summary = strings.TrimSpace(result.Summary)
	result.Language = strings.TrimSpace(result.Language)
	result.Keywords = cleanList(result.Keywords)
	result.Errors = cleanList(result.Errors)
	for i, message := range result.Errors {
		result.Errors[i] = MaskPII(message)
	}

	if result.ProcessingTime < 0 {
		result.ProcessingTime = 0
	}

	if result.Success {
		if result.ExtractedText == "" && result.OCRText == "" && result.Summary == "" &&
			len(result.Keywords) == 0 && result.Language == "" {
			return domain.CallbackPayload{}, fmt.Errorf("%w: successful result carries no content", ErrInvalidCallback)
		}
		result.Errors = nil
	} else if len(result.Errors) == 0 {
		return domain.CallbackPayload{}, fmt.Errorf("%w: failed result carries no errors", ErrInvalidCallback)
	}

	payload.Result = result
	return payload, nil
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}
