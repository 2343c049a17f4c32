package webhook

import (
	"errors"
	"strings"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// DefaultPrompt is used for openai integrations when the sender gives none
const DefaultPrompt = "Write an engaging article for the community"

var ErrContentRequired = errors.New("content is required for webhook integrations")

// Payload is the body accepted by the webhook intake
type Payload struct {
	Prompt  string `json:"prompt,omitempty" validate:"max=4000"`
	Title   string `json:"title,omitempty" validate:"max=500"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty" validate:"omitempty,oneof=story question article"`
}

// Normalize applies the per-provider rules and returns the job payload.
func (p Payload) Normalize(provider models.IntegrationType) (map[string]any, error) {
	if p.Type == "" {
		p.Type = "article"
	}

	switch {
	case provider == models.IntegrationTypeOpenAI:
		if strings.TrimSpace(p.Prompt) == "" {
			p.Prompt = DefaultPrompt
		}
	case provider.IsWebhook():
		if strings.TrimSpace(p.Content) == "" {
			return nil, ErrContentRequired
		}
	}

	out := map[string]any{"type": p.Type}
	if p.Prompt != "" {
		out["prompt"] = p.Prompt
	}
	if p.Title != "" {
		out["title"] = p.Title
	}
	if p.Content != "" {
		out["content"] = p.Content
	}
	return out, nil
}
