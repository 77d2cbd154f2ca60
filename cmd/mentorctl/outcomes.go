package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/mathmentor/internal/app"
	"github.com/ashita-ai/mathmentor/internal/config"
	"github.com/ashita-ai/mathmentor/internal/model"
)

var (
	feedbackComment string
	editedSolution  string
	reviewer        string
	similarK        int
)

var approveCmd = &cobra.Command{
	Use:   "approve <run_id>",
	Short: "Approve a run held for human review and store it",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <run_id> <correct|incorrect|unclear>",
	Short: "Record feedback on a stored outcome",
	Args:  cobra.ExactArgs(2),
	RunE:  runFeedback,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show solved counts, feedback success rate, and per-topic progress",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var similarCmd = &cobra.Command{
	Use:   "similar <query>",
	Short: "Find stored outcomes similar to a problem",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSimilar,
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackComment, "comment", "", "optional comment")
	approveCmd.Flags().StringVar(&editedSolution, "edit", "", "replace the solution text before storing")
	approveCmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name (defaults to $USER)")
	similarCmd.Flags().IntVarP(&similarK, "k", "k", 3, "number of results")
}

func runApprove(cmd *cobra.Command, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	who := reviewer
	if who == "" {
		who = os.Getenv("USER")
	}
	var edited *string
	if cmd.Flags().Changed("edit") {
		edited = &editedSolution
	}
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		out, err := a.Service.Approve(ctx, id, who, edited)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), out)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored outcome %s (topic %s).\n", out.ID, displayTopic(out.Topic))
		return err
	})
}

func runFeedback(cmd *cobra.Command, args []string) error {
	id, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	req := model.FeedbackRequest{Verdict: args[1], Comment: feedbackComment}
	if _, err := req.Validate(); err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		if err := a.Service.Feedback(ctx, id, req); err != nil {
			return err
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "Feedback recorded.")
		return err
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		st, err := a.Service.Stats(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), st)
		}
		return printStats(cmd.OutOrStdout(), st)
	})
}

func runSimilar(cmd *cobra.Command, args []string) error {
	if similarK <= 0 {
		return fmt.Errorf("--k must be positive")
	}
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		hits, err := a.Service.Similar(ctx, strings.Join(args, " "), similarK)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), hits)
		}
		return printSimilar(cmd.OutOrStdout(), hits)
	})
}

func parseRunID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}
