package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentboard/agentboard/internal/models"
)

// Triage holds the LLM-generated summary of a failed run.
type Triage struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Client wraps the Anthropic API for run-failure triage.
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

// buildTriagePrompt constructs the system and user prompts for triage.
func buildTriagePrompt(run *models.Run, cases []*models.TestCase) (system string, user string) {
	system = `You triage failed automated test runs into bug reports. Return ONLY a JSON object with these fields:
- "title": a concise bug title summarizing the dominant failure
- "description": 2-6 sentences covering which cases failed, the observed vs expected behavior, and any pattern across failures
- "severity": one of "low", "medium", "high", "critical", judged from the failure impact

Rules:
- Focus on failed and blocked cases; ignore passed ones beyond the totals
- If bug descriptions are present on cases, fold them into the description
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s on commit %s: %d total, %d passed, %d failed, %d skipped.\n\n",
		run.ID, run.CommitSHA, run.TotalTests, run.Passed, run.Failed, run.Skipped)
	for _, tc := range cases {
		if tc.Status != models.CaseStatusFail && tc.Status != models.CaseStatusBlocked {
			continue
		}
		fmt.Fprintf(&sb, "Case %d %q [%s]\n", tc.OrderIndex, tc.Name, tc.Status)
		if tc.Expected != "" {
			fmt.Fprintf(&sb, "  expected: %s\n", tc.Expected)
		}
		if tc.Actual != "" {
			fmt.Fprintf(&sb, "  actual: %s\n", tc.Actual)
		}
		if tc.BugDescription != "" {
			fmt.Fprintf(&sb, "  bug: %s (severity %s)\n", tc.BugDescription, tc.BugSeverity)
		}
	}
	user = sb.String()
	return
}

// TriageRun sends a failed run's cases to the LLM and returns a structured
// bug summary.
func (c *Client) TriageRun(ctx context.Context, run *models.Run, cases []*models.TestCase) (*Triage, error) {
	systemPrompt, userPrompt := buildTriagePrompt(run, cases)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
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

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	// Strip markdown fencing if present
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

	var triage Triage
	if err := json.Unmarshal([]byte(text), &triage); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	return &triage, nil
}
