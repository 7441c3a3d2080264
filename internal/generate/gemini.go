package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/blog-autopilot/internal/prompts"
	"github.com/jonathan/blog-autopilot/internal/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

// GeminiClient implements all four generation capabilities on Google
// Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed generation suite member.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Suite returns the client wired into every capability slot.
func (c *GeminiClient) Suite() Suite {
	return Suite{Researcher: c, Outliner: c, Writer: c, SEO: c}
}

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Research gathers notes on the topic: key facts, angles and common
// reader questions.
func (c *GeminiClient) Research(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error) {
	prompt := prompts.Format(prompts.MustGet("research"), map[string]string{
		"Topic": fmt.Sprintf("%q", draft.Topic),
	})

	var notes []string
	if err := c.generateJSON(ctx, prompt, &notes); err != nil {
		return draft, fmt.Errorf("research generation failed: %w", err)
	}
	out := draft.Next()
	out.ResearchNotes = notes
	return out, nil
}

// Outline produces 5-8 section headings from the research notes.
func (c *GeminiClient) Outline(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error) {
	prompt := prompts.Format(prompts.MustGet("outline"), map[string]string{
		"Topic": fmt.Sprintf("%q", draft.Topic),
		"Notes": bulleted(draft.ResearchNotes),
	})

	var outline []string
	if err := c.generateJSON(ctx, prompt, &outline); err != nil {
		return draft, fmt.Errorf("outline generation failed: %w", err)
	}
	out := draft.Next()
	out.Outline = outline
	return out, nil
}

// Write produces the HTML body from the outline.
func (c *GeminiClient) Write(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error) {
	prompt := prompts.Format(prompts.MustGet("body"), map[string]string{
		"Topic":   fmt.Sprintf("%q", draft.Topic),
		"Outline": bulleted(draft.Outline),
	})

	body, err := c.generateText(ctx, prompt)
	if err != nil {
		return draft, fmt.Errorf("body generation failed: %w", err)
	}
	out := draft.Next()
	out.BodyHTML = strings.TrimSpace(body)
	return out, nil
}

// seoMeta is the structured response for the SEO pass.
type seoMeta struct {
	Title    string   `json:"title"`
	Excerpt  string   `json:"excerpt"`
	Slug     string   `json:"slug"`
	Keywords []string `json:"keywords"`
}

// Rewrite produces SEO metadata for the drafted body.
func (c *GeminiClient) Rewrite(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error) {
	body := draft.BodyHTML
	if len(body) > 2000 {
		body = body[:2000]
	}
	prompt := prompts.Format(prompts.MustGet("seo"), map[string]string{
		"Topic": fmt.Sprintf("%q", draft.Topic),
		"Body":  body,
	})

	var meta seoMeta
	if err := c.generateJSON(ctx, prompt, &meta); err != nil {
		return draft, fmt.Errorf("seo generation failed: %w", err)
	}
	out := draft.Next()
	out.Title = meta.Title
	out.Excerpt = meta.Excerpt
	out.Slug = types.Slugify(meta.Slug)
	if out.Slug == "" {
		out.Slug = types.Slugify(meta.Title)
	}
	out.SEOKeywords = meta.Keywords
	return out, nil
}

func (c *GeminiClient) generateText(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.7)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", types.Transient("calling generation model", err)
	}
	return extractText(resp)
}

func (c *GeminiClient) generateJSON(ctx context.Context, prompt string, out any) error {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.3)
	model.ResponseMIMEType = "application/json"
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return types.Transient("calling generation model", err)
	}
	text, err := extractText(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return types.Permanent("parsing model JSON response", err)
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", types.Transient("model returned no candidates", nil)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", types.Transient("model returned empty content", nil)
	}
	return sb.String(), nil
}

func bulleted(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return sb.String()
}
