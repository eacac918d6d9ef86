// Package dispatch delivers contextual instructions to mentioned agents
// through a primary gateway transport with a CLI fallback. Delivery is
// at-most-once: failures are logged and abandoned, never retried or surfaced
// to the message sender.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/agentboard/agentboard/internal/mention"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

// ContextMessages is how many recent channel messages are included as prompt
// context.
const ContextMessages = 10

// Transport delivers one instruction to one agent.
type Transport interface {
	Send(ctx context.Context, agentID, message, channel string) error
}

// Job is one stored message whose mentions need dispatching.
type Job struct {
	ChannelID   string
	ChannelName string
	MessageID   string
}

// Dispatcher resolves mentions and delivers prompts, one handle at a time.
type Dispatcher struct {
	store    store.Store
	primary  Transport
	fallback Transport
}

// NewDispatcher creates a dispatcher. fallback may be nil when no CLI runner
// is configured.
func NewDispatcher(s store.Store, primary, fallback Transport) *Dispatcher {
	return &Dispatcher{store: s, primary: primary, fallback: fallback}
}

// Dispatch delivers the message's mentions sequentially. A slow delivery
// delays the next handle; the caller bounds the overall attempt via ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) {
	msg, err := d.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		slog.Warn("dispatch: load message", "message_id", job.MessageID, "error", err)
		return
	}
	if len(msg.Mentions) == 0 {
		return
	}

	recent, err := d.store.ListRecentMessages(ctx, job.ChannelID, ContextMessages)
	if err != nil {
		slog.Warn("dispatch: load channel context", "channel", job.ChannelName, "error", err)
		recent = nil
	}

	for _, handle := range msg.Mentions {
		target, ok := mention.Resolve(handle)
		if !ok {
			// Unknown handles are dropped silently at extraction; a stored
			// one means the vocabulary shrank. Skip it.
			continue
		}
		d.deliver(ctx, target, job.ChannelName, recent, msg)
	}
}

// deliver tries the gateway first and falls back to the CLI runner. If both
// fail the attempt is abandoned.
func (d *Dispatcher) deliver(ctx context.Context, target mention.Target, channel string, recent []*models.Message, msg *models.Message) {
	prompt := BuildPrompt(target, channel, recent, msg)

	if d.primary == nil {
		if d.fallback == nil {
			slog.Error("dispatch abandoned, no transport configured", "handle", target.Handle, "message_id", msg.ID)
			return
		}
		if err := d.fallback.Send(ctx, target.AgentID, prompt, channel); err != nil {
			slog.Error("dispatch abandoned", "handle", target.Handle, "message_id", msg.ID, "error", err)
			return
		}
		slog.Info("dispatched via runner", "handle", target.Handle, "channel", channel, "message_id", msg.ID)
		return
	}

	err := d.primary.Send(ctx, target.AgentID, prompt, channel)
	if err == nil {
		slog.Info("dispatched via gateway", "handle", target.Handle, "channel", channel, "message_id", msg.ID)
		return
	}
	slog.Warn("gateway dispatch failed, trying runner", "handle", target.Handle, "error", err)

	if d.fallback == nil {
		slog.Error("dispatch abandoned", "handle", target.Handle, "message_id", msg.ID, "error", err)
		return
	}
	if err := d.fallback.Send(ctx, target.AgentID, prompt, channel); err != nil {
		slog.Error("dispatch abandoned", "handle", target.Handle, "message_id", msg.ID, "error", err)
		return
	}
	slog.Info("dispatched via runner", "handle", target.Handle, "channel", channel, "message_id", msg.ID)
}
