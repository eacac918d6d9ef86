// Package messages implements the append-only channel message store: sends
// with mention extraction and dispatch hand-off, cursor pagination, and
// per-subscriber read cursors.
package messages

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/dispatch"
	"github.com/agentboard/agentboard/internal/mention"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

// DefaultLimit is the page size used when the caller does not specify one.
const DefaultLimit = 50

// MaxLimit caps requested page sizes.
const MaxLimit = 200

// Enqueuer hands a stored message to the background dispatch queue.
type Enqueuer interface {
	Enqueue(job dispatch.Job) bool
}

// Service implements channel message operations over the store.
type Service struct {
	store store.Store
	queue Enqueuer
	now   func() time.Time
}

// NewService creates a message service. queue may be nil, in which case sends
// skip dispatch entirely (used by read-only CLI paths and tests).
func NewService(s store.Store, queue Enqueuer) *Service {
	return &Service{store: s, queue: queue, now: func() time.Time { return time.Now().UTC() }}
}

// SendParams are the inputs to Send.
type SendParams struct {
	Channel    string
	Content    string
	SenderID   string
	SenderName string
	Type       models.MessageType
	Mentions   []string
	Meta       models.MessageMeta
}

func validMessageType(t models.MessageType) bool {
	switch t {
	case models.MessageTypeText, models.MessageTypeBugReport, models.MessageTypePRCreated,
		models.MessageTypeTestResult, models.MessageTypeTaskStarted, models.MessageTypeTaskCompleted,
		models.MessageTypeStatusUpdate, models.MessageTypeCodeSnippet:
		return true
	}
	return false
}

// Send stores a message and hands it to the dispatch queue. The returned
// message is the durably stored one; dispatch outcome never affects it.
func (s *Service) Send(ctx context.Context, p auth.Principal, params SendParams) (*models.Message, error) {
	var bad []string
	if strings.TrimSpace(params.Channel) == "" {
		bad = append(bad, "channel")
	}
	if strings.TrimSpace(params.Content) == "" {
		bad = append(bad, "content")
	}
	if params.Type == "" {
		params.Type = models.MessageTypeText
	}
	if !validMessageType(params.Type) {
		bad = append(bad, "type")
	}
	if len(bad) > 0 {
		return nil, core.Invalid(bad...)
	}

	ch, err := s.store.GetOrCreateChannel(ctx, params.Channel)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ChannelID:  ch.ID,
		SenderID:   params.SenderID,
		SenderName: params.SenderName,
		Type:       params.Type,
		Content:    params.Content,
		Mentions:   mention.Merge(mention.Extract(params.Content), params.Mentions),
		Meta:       params.Meta,
		CreatedAt:  s.now(),
	}
	if msg.SenderName == "" {
		msg.SenderName = p.Subject
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	// Fire-and-forget relative to the request: the response to the sender is
	// already decided, and delivery failures stay on the queue's side.
	if s.queue != nil && len(msg.Mentions) > 0 {
		s.queue.Enqueue(dispatch.Job{
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
			MessageID:   msg.ID,
		})
	}
	return msg, nil
}

// Page is one page of messages in chronological order.
type Page struct {
	Messages []*models.Message
	HasMore  bool
	// Cursor is the id of the oldest message in the page, usable as the next
	// `before` value when paginating backwards.
	Cursor string
}

// ListParams select a page of messages. Before is a message id; After is a
// timestamp. At most one of the two should be set.
type ListParams struct {
	Channel string
	Limit   int
	Before  string
	After   *time.Time
}

// List returns messages in the channel's total order (created_at, id).
// With After set it returns the polling delta: messages strictly newer than
// the timestamp, ascending. With Before set it resolves the cursor message's
// created_at and pages backwards, returning the page in chronological order.
// HasMore reports whether more qualifying rows exist beyond the page.
func (s *Service) List(ctx context.Context, params ListParams) (*Page, error) {
	if params.Before != "" && params.After != nil {
		return nil, core.Invalid("before", "after")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	ch, err := s.store.GetChannelByName(ctx, params.Channel)
	if err != nil {
		return nil, err
	}

	page := &Page{}

	switch {
	case params.Before != "":
		cursor, err := s.store.GetMessage(ctx, params.Before)
		if err != nil {
			return nil, err
		}
		// Fetch one extra row: its presence answers has_more without a
		// separate count query.
		older, err := s.store.ListMessagesBefore(ctx, ch.ID, cursor.CreatedAt, limit+1)
		if err != nil {
			return nil, err
		}
		if len(older) > limit {
			page.HasMore = true
			older = older[:limit]
		}
		// Newest-first from the store; reverse to chronological.
		for i, j := 0, len(older)-1; i < j; i, j = i+1, j-1 {
			older[i], older[j] = older[j], older[i]
		}
		page.Messages = older
	case params.After != nil:
		newer, err := s.store.ListMessagesAfter(ctx, ch.ID, *params.After, limit+1)
		if err != nil {
			return nil, err
		}
		if len(newer) > limit {
			page.HasMore = true
			newer = newer[:limit]
		}
		page.Messages = newer
	default:
		recent, err := s.store.ListRecentMessages(ctx, ch.ID, limit+1)
		if err != nil {
			return nil, err
		}
		if len(recent) > limit {
			page.HasMore = true
			recent = recent[1:]
		}
		page.Messages = recent
	}

	if len(page.Messages) > 0 {
		page.Cursor = page.Messages[0].ID
	}
	return page, nil
}

// MarkRead stamps the subscriber's read cursor. With upTo set it uses that
// message's created_at, supporting "mark read up to a point" without
// re-fetching the page; otherwise it stamps now.
func (s *Service) MarkRead(ctx context.Context, subscriberID, channel, upTo string) (*models.ReadCursor, error) {
	if subscriberID == "" {
		return nil, core.Invalid("subscriber")
	}
	ch, err := s.store.GetChannelByName(ctx, channel)
	if err != nil {
		return nil, err
	}

	lastRead := s.now()
	if upTo != "" {
		msg, err := s.store.GetMessage(ctx, upTo)
		if err != nil {
			return nil, err
		}
		if msg.ChannelID != ch.ID {
			return nil, core.Invalid("up_to")
		}
		lastRead = msg.CreatedAt
	}

	cursor := &models.ReadCursor{
		SubscriberID: subscriberID,
		ChannelID:    ch.ID,
		LastReadAt:   lastRead,
	}
	if err := s.store.UpsertReadCursor(ctx, cursor); err != nil {
		return nil, err
	}
	return cursor, nil
}

// UnreadCount counts messages newer than the subscriber's cursor, or all
// messages when no cursor exists yet. Always computed, never denormalized.
func (s *Service) UnreadCount(ctx context.Context, subscriberID, channel string) (int, error) {
	ch, err := s.store.GetChannelByName(ctx, channel)
	if err != nil {
		return 0, err
	}
	cursor, err := s.store.GetReadCursor(ctx, subscriberID, ch.ID)
	if errors.Is(err, core.ErrNotFound) {
		return s.store.CountMessagesAfter(ctx, ch.ID, nil)
	}
	if err != nil {
		return 0, err
	}
	return s.store.CountMessagesAfter(ctx, ch.ID, &cursor.LastReadAt)
}
