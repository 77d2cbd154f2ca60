package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/mathmentor/internal/app"
	"github.com/ashita-ai/mathmentor/internal/config"
	"github.com/ashita-ai/mathmentor/internal/model"
	"github.com/ashita-ai/mathmentor/internal/service/mentor"
)

var (
	inputMode          string
	modalityConfidence float64
)

var solveCmd = &cobra.Command{
	Use:   "solve [problem]",
	Short: "Solve a problem, or start an interactive session",
	Long: `Solve one problem given as arguments, or read problems from stdin one line
at a time when no arguments are given. In a session, the line after a
clarification request is sent as the clarification.

Examples:
  mentorctl solve "Solve 2x + 3 = 7 for x"
  mentorctl solve --mode image --modality-confidence 0.6 "x^2 - 4 = 0"
  mentorctl solve`,
	RunE: runSolve,
}

var clarifyCmd = &cobra.Command{
	Use:   "clarify <run_id> <problem>",
	Short: "Answer a clarification request with a restated problem",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runClarify,
}

func init() {
	solveCmd.Flags().StringVar(&inputMode, "mode", "text", "input mode: text, image, or audio")
	solveCmd.Flags().Float64Var(&modalityConfidence, "modality-confidence", -1, "extraction confidence for image or audio input")
}

func runSolve(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		if len(args) == 0 {
			return interactive(ctx, mentor.NewSession(a.Service), cmd.InOrStdin(), cmd.OutOrStdout())
		}

		req := model.SolveRequest{ProblemText: strings.Join(args, " "), InputMode: inputMode}
		if cmd.Flags().Changed("modality-confidence") {
			req.ModalityConfidence = &modalityConfidence
		}
		in, err := req.Input()
		if err != nil {
			return err
		}
		res, err := a.Service.Solve(ctx, in)
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), res.View())
	})
}

func runClarify(cmd *cobra.Command, args []string) error {
	parent, err := parseRunID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		res, err := a.Service.Clarify(ctx, parent, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return printRun(cmd.OutOrStdout(), res.View())
	})
}

// interactive reads one problem per line until EOF or ":quit". ":reset"
// drops a pending clarification.
func interactive(ctx context.Context, sess *mentor.Session, in io.Reader, out io.Writer) error {
	_, _ = fmt.Fprintln(out, "Enter a math problem. :reset starts over, :quit exits.")
	sc := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !sc.Scan() {
			_, _ = fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case ":quit", ":q":
			return nil
		case ":reset":
			sess.Reset()
			continue
		}

		res, err := sess.Submit(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := printRun(out, res.View()); err != nil {
			return err
		}
	}
}
