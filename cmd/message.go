package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/dispatch"
	"github.com/agentboard/agentboard/internal/messages"
	"github.com/agentboard/agentboard/internal/output"
)

var (
	messageFrom     string
	messageNoNotify bool
	messageLimit    int
	messageBefore   string
	messageAs       string
	messageUpTo     string
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Send and read channel messages",
}

var messageSendCmd = &cobra.Command{
	Use:   "send <channel> <content>",
	Short: "Post a message to a channel",
	Long: `Post a message to a channel. @mentions in the content are extracted
and the mentioned agents are notified synchronously unless --no-notify
is set.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageSendRun(args[0], strings.Join(args[1:], " "))
	},
}

var messageListCmd = &cobra.Command{
	Use:   "list <channel>",
	Short: "List recent messages in a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageListRun(args[0])
	},
}

var messageReadCmd = &cobra.Command{
	Use:   "read <channel>",
	Short: "Mark a channel read for a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageReadRun(args[0])
	},
}

var messageUnreadCmd = &cobra.Command{
	Use:   "unread <channel>",
	Short: "Show a subscriber's unread count for a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return messageUnreadRun(args[0])
	},
}

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "List channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return channelListRun()
	},
}

func init() {
	messageSendCmd.Flags().StringVar(&messageFrom, "from", "cli", "Sender name")
	messageSendCmd.Flags().BoolVar(&messageNoNotify, "no-notify", false, "Skip mention dispatch")
	messageListCmd.Flags().IntVar(&messageLimit, "limit", 50, "Page size")
	messageListCmd.Flags().StringVar(&messageBefore, "before", "", "Message id to page backwards from")
	messageReadCmd.Flags().StringVar(&messageAs, "as", "cli", "Subscriber id")
	messageReadCmd.Flags().StringVar(&messageUpTo, "up-to", "", "Mark read up to this message id (default: latest)")
	messageUnreadCmd.Flags().StringVar(&messageAs, "as", "cli", "Subscriber id")

	messageCmd.AddCommand(messageSendCmd)
	messageCmd.AddCommand(messageListCmd)
	messageCmd.AddCommand(messageReadCmd)
	messageCmd.AddCommand(messageUnreadCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(channelCmd)
}

func messageSendRun(channel, content string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would send to #%s: %s", channel, content)
		return nil
	}

	msg, err := messages.NewService(s, nil).Send(ctx, auth.Session(messageFrom), messages.SendParams{
		Channel: channel,
		Content: content,
	})
	if err != nil {
		return err
	}
	ui.Success("Message sent: %s", msg.ID)

	// The server dispatches through its queue; the CLI notifies inline.
	if len(msg.Mentions) > 0 && !messageNoNotify {
		d, err := newDispatcher()
		if err != nil {
			return err
		}
		d.Dispatch(ctx, dispatch.Job{
			ChannelID:   msg.ChannelID,
			ChannelName: channel,
			MessageID:   msg.ID,
		})
		ui.Info("Notified: %s", strings.Join(msg.Mentions, ", "))
	}
	return nil
}

func messageListRun(channel string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	page, err := messages.NewService(s, nil).List(ctx, messages.ListParams{
		Channel: channel,
		Limit:   messageLimit,
		Before:  messageBefore,
	})
	if err != nil {
		return err
	}
	if len(page.Messages) == 0 {
		ui.Info("No messages in #%s.", channel)
		return nil
	}

	for _, m := range page.Messages {
		fmt.Fprintf(ui.Out, "%s  %s %s\n",
			m.CreatedAt.Format("01-02 15:04"),
			output.Cyan(m.SenderName+":"),
			m.Content)
	}
	if page.HasMore {
		fmt.Fprintln(ui.Out)
		ui.Info("More history: --before %s", page.Cursor)
	}
	return nil
}

func messageReadRun(channel string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	cursor, err := messages.NewService(s, nil).MarkRead(ctx, messageAs, channel, messageUpTo)
	if err != nil {
		return err
	}
	ui.Success("#%s read for %s up to %s", channel, messageAs, cursor.LastReadAt.Format("15:04:05"))
	return nil
}

func messageUnreadRun(channel string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	count, err := messages.NewService(s, nil).UnreadCount(ctx, messageAs, channel)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "%d\n", count)
	return nil
}

func channelListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	channels, err := s.ListChannels(ctx)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		ui.Info("No channels yet. Channels are created on first message.")
		return nil
	}

	table := ui.Table([]string{"Name", "Description", "Created"})
	for _, c := range channels {
		table.Append([]string{c.Name, c.Description, c.CreatedAt.Format("2006-01-02")})
	}
	return table.Render()
}
