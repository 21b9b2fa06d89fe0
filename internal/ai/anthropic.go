package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/civicfix/backend/internal/models"
)

const maxPolicyTextChars = 120_000

// completeFunc sends one user turn and returns the concatenated text blocks.
type completeFunc func(ctx context.Context, system string, blocks []anthropic.ContentBlockParamUnion) (string, error)

// AnthropicProvider implements Provider on the Messages API.
type AnthropicProvider struct {
	Model   string
	Timeout time.Duration

	complete completeFunc
}

func NewAnthropicProvider(apiKey, model string, timeout time.Duration) (*AnthropicProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		option.WithMaxRetries(1),
	)
	p := &AnthropicProvider{Model: model, Timeout: timeout}
	p.complete = func(ctx context.Context, system string, blocks []anthropic.ContentBlockParamUnion) (string, error) {
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(p.Model),
			MaxTokens: 4096,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		})
		if err != nil {
			return "", fmt.Errorf("anthropic API call failed: %w", err)
		}
		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}
	return p, nil
}

func (p *AnthropicProvider) call(ctx context.Context, system string, blocks ...anthropic.ContentBlockParamUnion) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	reply, err := p.complete(ctx, system, blocks)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyResponse
	}
	return reply, nil
}

func (p *AnthropicProvider) AnalyzeIssue(ctx context.Context, image []byte, mimeType string, text string) (models.AIAnalysis, error) {
	blocks := []anthropic.ContentBlockParamUnion{}
	if len(image) > 0 {
		if mimeType == "" {
			mimeType = http.DetectContentType(image)
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(image)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(buildAnalysisPrompt(text)))

	reply, err := p.call(ctx, analysisSystemPrompt, blocks...)
	if err != nil {
		return models.AIAnalysis{}, err
	}
	analysis, err := ParseJSON[models.AIAnalysis](reply, analysisSchema)
	if err != nil {
		return models.AIAnalysis{}, err
	}
	analysis.Severity = models.NormalizeSeverity(string(analysis.Severity))
	return analysis, nil
}

func (p *AnthropicProvider) EstimateSLA(ctx context.Context, category, issueType string) (Estimate, error) {
	reply, err := p.call(ctx, estimateSystemPrompt, anthropic.NewTextBlock(fmt.Sprintf(
		"Department/category: %s\nIssue type: %s\n\nRespond with JSON: {\"duration\": <hours as a number>, \"reasoning\": \"<one or two sentences>\"}",
		category, issueType)))
	if err != nil {
		return Estimate{}, err
	}
	return ParseJSON[Estimate](reply, estimateSchema)
}

func (p *AnthropicProvider) ExtractPolicyItems(ctx context.Context, rawText string) (PolicyExtraction, error) {
	rawText = truncateText(rawText, maxPolicyTextChars)

	slaReply, err := p.call(ctx, extractSystemPrompt, anthropic.NewTextBlock(slaExtractionPrompt+rawText))
	if err != nil {
		return PolicyExtraction{}, fmt.Errorf("extract sla items: %w", err)
	}
	slaItems, err := ParseJSON[[]SLAItem](slaReply, slaItemsSchema)
	if err != nil {
		return PolicyExtraction{}, fmt.Errorf("parse sla items: %w", err)
	}

	deptReply, err := p.call(ctx, extractSystemPrompt, anthropic.NewTextBlock(departmentExtractionPrompt+rawText))
	if err != nil {
		return PolicyExtraction{}, fmt.Errorf("extract departments: %w", err)
	}
	departments, err := ParseJSON[[]DepartmentItem](deptReply, departmentItemsSchema)
	if err != nil {
		return PolicyExtraction{}, fmt.Errorf("parse departments: %w", err)
	}

	return PolicyExtraction{SLAItems: slaItems, Departments: departments}, nil
}

const analysisSystemPrompt = `You triage civic issue reports for a city administration. Look at the photo and the citizen's text and classify the problem. Reply with JSON only.`

const estimateSystemPrompt = `You estimate realistic municipal resolution times when no published policy applies. Reply with JSON only.`

const extractSystemPrompt = `You extract structured records from a municipal citizen charter. Reply with a JSON array only, no prose.`

const slaExtractionPrompt = `Extract every resolution-time commitment. For each, return {"category": department or service area, "issueType": the specific problem, "sectionReference": the section or clause label, "slaDuration": number, "slaUnit": "hours" or "days", "text": the clause text}.

Charter text:
`

const departmentExtractionPrompt = `Extract every department and its responsibilities. For each, return {"departmentName", "handledIssues": [short issue names], "summary": one sentence, "examplePhrases": [ways citizens describe these issues]}.

Charter text:
`

func buildAnalysisPrompt(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		text = "(no description provided)"
	}
	return fmt.Sprintf(`Citizen description: %s

Return JSON with:
- "category": the responsible municipal department (for example Roads, Sanitation, Water Supply, Electricity, Parks)
- "issueType": a short name for the problem (for example Pothole, Garbage Overflow, Streetlight Outage)
- "severity": one of "Low", "Medium", "High"
- "issueDescription": one or two sentences describing what is visible`, text)
}

// truncateText cuts s to at most n bytes without splitting a rune.
func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
