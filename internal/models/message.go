package models

import "time"

// MessageType tags a chat message with its payload shape.
type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeBugReport     MessageType = "bug_report"
	MessageTypePRCreated     MessageType = "pr_created"
	MessageTypeTestResult    MessageType = "test_result"
	MessageTypeTaskStarted   MessageType = "task_started"
	MessageTypeTaskCompleted MessageType = "task_completed"
	MessageTypeStatusUpdate  MessageType = "status_update"
	MessageTypeCodeSnippet   MessageType = "code_snippet"
)

// BugReportMeta is the payload for bug_report messages.
type BugReportMeta struct {
	Description string      `json:"description"`
	Page        string      `json:"page,omitempty"`
	Severity    BugSeverity `json:"severity,omitempty"`
}

// PRCreatedMeta is the payload for pr_created messages.
type PRCreatedMeta struct {
	URL       string `json:"url"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// TestResultMeta is the payload for test_result messages.
type TestResultMeta struct {
	RunID     string `json:"run_id"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

// StatusUpdateMeta is the payload for status_update messages.
type StatusUpdateMeta struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// MessageMeta carries the type-specific payload of a message. At most one
// field is non-nil, matching the message's Type tag.
type MessageMeta struct {
	BugReport    *BugReportMeta    `json:"bug_report,omitempty"`
	PRCreated    *PRCreatedMeta    `json:"pr_created,omitempty"`
	TestResult   *TestResultMeta   `json:"test_result,omitempty"`
	StatusUpdate *StatusUpdateMeta `json:"status_update,omitempty"`
}

// Empty reports whether no payload is present.
func (m MessageMeta) Empty() bool {
	return m.BugReport == nil && m.PRCreated == nil && m.TestResult == nil && m.StatusUpdate == nil
}

// Channel is a named message stream.
type Channel struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Message is an immutable chat message in a channel. Mentions is the
// deduplicated set of @handles found in or supplied with the content.
type Message struct {
	ID         string
	ChannelID  string
	SenderID   string
	SenderName string
	Type       MessageType
	Content    string
	Mentions   []string
	Meta       MessageMeta
	CreatedAt  time.Time
}

// ReadCursor separates read from unread messages for one subscriber in one
// channel. Unread counts are always computed against LastReadAt, never stored.
type ReadCursor struct {
	SubscriberID string
	ChannelID    string
	LastReadAt   time.Time
	UpdatedAt    time.Time
}
