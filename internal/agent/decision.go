// internal/agent/decision.go
package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/screen"
)

const decisionSystemPrompt = `You control a desktop computer through screenshots and primitive UI actions. Reply with a single JSON object only.`

// LLMDecisionSource asks a multimodal model for the next decision, attaching
// the screenshot as a compressed image.
type LLMDecisionSource struct {
	client  schemas.LLMClient
	tier    schemas.ModelTier
	encode  screen.EncodeOptions
	options schemas.GenerationOptions
	logger  *zap.Logger
}

var _ DecisionSource = (*LLMDecisionSource)(nil)

// NewLLMDecisionSource creates a decision source on the powerful tier.
func NewLLMDecisionSource(client schemas.LLMClient, encode screen.EncodeOptions, logger *zap.Logger) *LLMDecisionSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMDecisionSource{
		client:  client,
		tier:    schemas.TierPowerful,
		encode:  encode,
		options: schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
		logger:  logger.Named("decision_source"),
	}
}

// Decide sends the prompt and screenshot and returns the model's raw text.
func (d *LLMDecisionSource) Decide(ctx context.Context, prompt string, shot *schemas.Screenshot) (string, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: decisionSystemPrompt,
		UserPrompt:   prompt,
		Tier:         d.tier,
		Options:      d.options,
	}

	if shot != nil && shot.Image != nil {
		enc, err := screen.EncodeForModel(shot.Image, d.encode)
		if err != nil {
			return "", fmt.Errorf("encoding screenshot: %w", err)
		}
		req.Images = append(req.Images, schemas.ImagePart{MIMEType: enc.MIMEType, Data: enc.Data})
		d.logger.Debug("Attached screenshot.",
			zap.String("path", shot.Path),
			zap.Int("width", enc.Width),
			zap.Int("height", enc.Height),
			zap.Int("bytes", len(enc.Data)))
	}

	resp, err := d.client.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if resp == "" {
		return "", errors.New("llm returned an empty response")
	}
	return resp, nil
}
