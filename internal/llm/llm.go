package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Suggestion limits mirror the ask-question form.
const (
	maxSuggestedTags = 5
	maxTagLength     = 20
)

// Client wraps the Anthropic API for tag suggestions.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildSuggestPrompt constructs the system and user prompts for tag suggestion.
func buildSuggestPrompt(title, text string, existing []string) (system string, user string) {
	system = fmt.Sprintf(`You suggest tags for questions on a programming Q&A forum. Return ONLY a JSON array of tag names.

Rules:
- Suggest between 1 and %d tags
- Each tag is a single lower-case word of at most %d characters (use "-" instead of spaces)
- Prefer tags from the existing tag list when they fit
- Do not invent version numbers or overly specific tags
- Return valid JSON only, no markdown fencing or explanation`, maxSuggestedTags, maxTagLength)

	var sb strings.Builder
	if len(existing) > 0 {
		sb.WriteString("Existing tags: ")
		sb.WriteString(strings.Join(existing, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if text != "" {
		sb.WriteString("\nQuestion text:\n")
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// stripFence removes a surrounding markdown code fence, if present.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseSuggestions decodes the model output and keeps at most five distinct,
// lower-cased tags that fit the tag length limit.
func parseSuggestions(text string) ([]string, error) {
	var raw []string
	if err := json.Unmarshal([]byte(stripFence(text)), &raw); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	tags := []string{}
	seen := make(map[string]bool)
	for _, r := range raw {
		tag := strings.ToLower(strings.Join(strings.Fields(r), "-"))
		if tag == "" || len(tag) > maxTagLength || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxSuggestedTags {
			break
		}
	}
	return tags, nil
}

// SuggestTags asks the LLM for tags that fit a draft question.
func (c *Client) SuggestTags(ctx context.Context, title, text string, existing []string) ([]string, error) {
	systemPrompt, userPrompt := buildSuggestPrompt(title, text, existing)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out = block.Text
			break
		}
	}
	if out == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseSuggestions(out)
}
