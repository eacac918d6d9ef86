package dispatch

import (
	"fmt"
	"strings"

	"github.com/agentboard/agentboard/internal/mention"
	"github.com/agentboard/agentboard/internal/models"
)

// reportFooter tells the dispatched agent how to report back.
const reportFooter = `When you have results, post a message to the same channel through the agentboard API, mentioning the sender. Post short progress updates as you work; do not wait until everything is finished.`

// BuildPrompt constructs the instruction delivered to a mentioned agent:
// recent channel context, the mentioning message, a structured block from the
// message's typed metadata, and a fixed report-back footer.
func BuildPrompt(target mention.Target, channel string, context []*models.Message, msg *models.Message) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s (%s) on the %s channel.\n\n", target.Handle, target.Category, channel)

	if len(context) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, m := range context {
			if m.ID == msg.ID {
				continue
			}
			fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.SenderName, m.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "New message from %s:\n%s\n", msg.SenderName, msg.Content)

	if block := metaBlock(msg); block != "" {
		sb.WriteString("\n")
		sb.WriteString(block)
	}

	sb.WriteString("\n")
	sb.WriteString(reportFooter)
	return sb.String()
}

// metaBlock renders the type-specific metadata fields, one shape per type.
func metaBlock(msg *models.Message) string {
	var sb strings.Builder
	switch msg.Type {
	case models.MessageTypeBugReport:
		meta := msg.Meta.BugReport
		if meta == nil {
			return ""
		}
		sb.WriteString("Bug report details:\n")
		fmt.Fprintf(&sb, "- Description: %s\n", meta.Description)
		if meta.Page != "" {
			fmt.Fprintf(&sb, "- Page: %s\n", meta.Page)
		}
		if meta.Severity != "" {
			fmt.Fprintf(&sb, "- Severity: %s\n", meta.Severity)
		}
	case models.MessageTypePRCreated:
		meta := msg.Meta.PRCreated
		if meta == nil {
			return ""
		}
		sb.WriteString("Pull request details:\n")
		fmt.Fprintf(&sb, "- Link: %s\n", meta.URL)
		if meta.CommitSHA != "" {
			fmt.Fprintf(&sb, "- Commit: %s\n", meta.CommitSHA)
		}
	case models.MessageTypeTestResult:
		meta := msg.Meta.TestResult
		if meta == nil {
			return ""
		}
		sb.WriteString("Test result details:\n")
		fmt.Fprintf(&sb, "- Run: %s\n", meta.RunID)
		if meta.CommitSHA != "" {
			fmt.Fprintf(&sb, "- Commit: %s\n", meta.CommitSHA)
		}
	}
	return sb.String()
}
