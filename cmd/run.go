package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/llm"
	"github.com/agentboard/agentboard/internal/messages"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/output"
	"github.com/agentboard/agentboard/internal/store"
)

var (
	runListAgent  string
	runListStatus string
	runListLimit  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect test runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListRun()
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListRun()
	},
}

var runShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its test cases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShowRun(args[0])
	},
}

var runTriagePost string

var runTriageCmd = &cobra.Command{
	Use:   "triage <run-id>",
	Short: "Summarize a failed run's bugs with the Anthropic API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTriageRun(args[0])
	},
}

func init() {
	runListCmd.Flags().StringVar(&runListAgent, "agent", "", "Filter by agent id")
	runListCmd.Flags().StringVar(&runListStatus, "status", "", "Filter by status (queued, running, passed, failed, cancelled, timed_out)")
	runListCmd.Flags().IntVar(&runListLimit, "limit", 20, "Max runs to show")
	runTriageCmd.Flags().StringVar(&runTriagePost, "post", "", "Post the triage as a bug report to this channel")

	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runShowCmd)
	runCmd.AddCommand(runTriageCmd)
	rootCmd.AddCommand(runCmd)
}

func runListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	result, err := s.ListRuns(ctx, store.RunListFilter{
		AgentID: runListAgent,
		Status:  models.RunStatus(runListStatus),
		Limit:   runListLimit,
	})
	if err != nil {
		return err
	}
	if len(result) == 0 {
		ui.Info("No runs found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Agent", "Status", "Commit", "Pass", "Fail", "Skip", "Started"})
	for _, run := range result {
		table.Append([]string{
			run.ID,
			run.AgentID,
			output.StatusColor(string(run.Status)),
			shortSHA(run.CommitSHA),
			fmt.Sprint(run.Passed),
			fmt.Sprint(run.Failed),
			fmt.Sprint(run.Skipped),
			humanSince(run.StartedAt),
		})
	}
	return table.Render()
}

func runShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	cases, err := s.ListRunCases(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "Run %s  %s\n", output.Cyan(run.ID), output.StatusColor(string(run.Status)))
	fmt.Fprintf(ui.Out, "  Agent:   %s\n", run.AgentID)
	if run.CommitSHA != "" {
		fmt.Fprintf(ui.Out, "  Commit:  %s %s\n", shortSHA(run.CommitSHA), truncate(run.CommitMessage, 60))
	}
	fmt.Fprintf(ui.Out, "  Results: %d passed, %d failed, %d skipped of %d\n",
		run.Passed, run.Failed, run.Skipped, run.TotalTests)
	if run.DurationMS > 0 {
		fmt.Fprintf(ui.Out, "  Took:    %.1fs\n", float64(run.DurationMS)/1000)
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"#", "Case", "Status", "Severity", "Bug"})
	for _, tc := range cases {
		table.Append([]string{
			fmt.Sprint(tc.OrderIndex + 1),
			truncate(tc.Name, 40),
			output.StatusColor(string(tc.Status)),
			output.SeverityColor(string(tc.BugSeverity)),
			truncate(tc.BugDescription, 50),
		})
	}
	return table.Render()
}

func runTriageRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return fmt.Errorf("anthropic.api_key is not configured (set ANTHROPIC_API_KEY or agentboard config)")
	}

	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	cases, err := s.ListRunCases(ctx, id)
	if err != nil {
		return err
	}

	client := llm.NewClient(apiKey, viper.GetString("anthropic.model"))
	triage, err := client.TriageRun(ctx, run, cases)
	if err != nil {
		return fmt.Errorf("triage run: %w", err)
	}

	fmt.Fprintf(ui.Out, "%s  [%s]\n\n", output.Cyan(triage.Title), output.SeverityColor(triage.Severity))
	fmt.Fprintln(ui.Out, triage.Description)

	if runTriagePost != "" {
		svc := messages.NewService(s, nil)
		_, err := svc.Send(ctx, auth.Session("triage"), messages.SendParams{
			Channel:    runTriagePost,
			Content:    fmt.Sprintf("%s\n\n%s", triage.Title, triage.Description),
			SenderName: "triage",
			Type:       models.MessageTypeBugReport,
			Meta: models.MessageMeta{
				BugReport: &models.BugReportMeta{
					Description: triage.Description,
					Severity:    models.BugSeverity(triage.Severity),
				},
			},
		})
		if err != nil {
			return fmt.Errorf("post triage to %s: %w", runTriagePost, err)
		}
		ui.Success("Posted bug report to #%s", runTriagePost)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
