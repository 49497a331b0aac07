package narration

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = `You are a product manager analysing UX analytics for a web application.
Write a short, actionable report in HTML for a product dashboard.
Do not restate the numbers. Identify core and ignored features, call out the two or three most
critical problems (low completion, bounces, friction signals), one or two positive highlights,
and concrete next steps. Use only <h2>, <h3>, <p>, <ul> and <li> tags.`

// GenAINarrator narrates summaries with a Gemini model.
type GenAINarrator struct {
	client *genai.Client
	model  string
}

func NewGenAINarrator(ctx context.Context, apiKey, model string) (*GenAINarrator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required: %w", ErrUnavailable)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAINarrator{client: client, model: model}, nil
}

func (n *GenAINarrator) Narrate(ctx context.Context, summaryJSON string) (string, error) {
	prompt := "Login and welcome pages are visited often but are not core features.\n" +
		"Here is the usage summary as JSON:\n\n" + summaryJSON

	resp, err := n.client.Models.GenerateContent(ctx, n.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		},
	)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	html := strings.TrimSpace(resp.Text())
	if html == "" {
		return "", fmt.Errorf("empty narration: %w", ErrUnavailable)
	}
	return html, nil
}
