package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentboard/agentboard/internal/agents"
	"github.com/agentboard/agentboard/internal/output"
)

var (
	agentDevURL  string
	agentRepoURL string
	agentBranch  string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents with their effective status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentShowRun(args[0])
	},
}

var agentRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register an agent and print its token",
	Long: `Register an agent by name. Registration is idempotent: re-registering
an existing name refreshes its urls and marks it online, keeping the
original token.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentRegisterRun(args[0])
	},
}

func init() {
	agentRegisterCmd.Flags().StringVar(&agentDevURL, "dev-url", "", "Agent's dev server URL")
	agentRegisterCmd.Flags().StringVar(&agentRepoURL, "repo-url", "", "Agent's repository URL")
	agentRegisterCmd.Flags().StringVar(&agentBranch, "branch", "", "Agent's working branch")

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentShowCmd)
	agentCmd.AddCommand(agentRegisterCmd)
	rootCmd.AddCommand(agentCmd)
}

func agentListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	views, err := agents.NewService(s).List(ctx)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		ui.Info("No agents registered. Use 'agentboard agent register <name>' to add one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Status", "Task", "Last Heartbeat"})
	for _, v := range views {
		table.Append([]string{
			v.ID,
			v.Name,
			output.StatusColor(string(v.EffectiveStatus)),
			truncate(v.CurrentTask, 40),
			humanSince(v.LastHeartbeat),
		})
	}
	return table.Render()
}

func agentShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	view, err := agents.NewService(s).Get(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s (%s)\n", output.Cyan(view.Name), view.ID)
	fmt.Fprintf(ui.Out, "  Status:         %s\n", output.StatusColor(string(view.EffectiveStatus)))
	if view.CurrentTask != "" {
		fmt.Fprintf(ui.Out, "  Current task:   %s\n", view.CurrentTask)
	}
	if view.DevURL != "" {
		fmt.Fprintf(ui.Out, "  Dev URL:        %s\n", view.DevURL)
	}
	if view.RepoURL != "" {
		fmt.Fprintf(ui.Out, "  Repo:           %s (%s)\n", view.RepoURL, view.Branch)
	}
	fmt.Fprintf(ui.Out, "  Last heartbeat: %s\n", humanSince(view.LastHeartbeat))
	fmt.Fprintf(ui.Out, "  Registered:     %s\n", view.CreatedAt.Format("2006-01-02 15:04"))
	return nil
}

func agentRegisterRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would register agent %q", name)
		return nil
	}

	agent, err := agents.NewService(s).Register(ctx, agents.RegisterParams{
		Name:    name,
		DevURL:  agentDevURL,
		RepoURL: agentRepoURL,
		Branch:  agentBranch,
	})
	if err != nil {
		return err
	}

	ui.Success("Agent registered: %s (%s)", agent.Name, agent.ID)
	fmt.Fprintf(ui.Out, "  Token: %s\n", agent.Token)
	return nil
}

// truncate shortens s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// humanSince renders a timestamp as a relative age.
func humanSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
