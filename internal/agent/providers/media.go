package providers

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// ErrEmptyMedia is returned when a media request carries no payload.
var ErrEmptyMedia = errors.New("google: empty media payload")

// GenerateFromMedia sends a single media blob plus an instruction prompt
// to Gemini and returns the full response text. It backs both audio
// transcription and image description in the ingestion pipeline.
//
// Errors are classified the same way as Complete: quota exhaustion comes
// back as *agent.QuotaError, server faults as *agent.TransientError.
func (p *GoogleProvider) GenerateFromMedia(ctx context.Context, model string, data []byte, mimeType, prompt string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyMedia
	}
	resolved := p.getModel(model)

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
			{Text: prompt},
		},
	}}

	resp, err := p.client.Models.GenerateContent(ctx, resolved, contents, nil)
	if err != nil {
		return "", p.classifyError(err, resolved)
	}
	return strings.TrimSpace(resp.Text()), nil
}
