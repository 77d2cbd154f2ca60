package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/mathmentor/internal/app"
	"github.com/ashita-ai/mathmentor/internal/config"
	"github.com/ashita-ai/mathmentor/internal/knowledge"
)

var (
	kbDocsPath string
	kbWatch    bool
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the reference knowledge base",
}

var kbIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load, chunk, and index the knowledge base documents",
	Long: `Index every .md and .txt file under the docs directory. Each file replaces
the chunks previously indexed for it. With --watch, keep running and
re-index files as they change.`,
	Args: cobra.NoArgs,
	RunE: runKBIndex,
}

func init() {
	kbIndexCmd.Flags().StringVar(&kbDocsPath, "docs", "", "docs directory (defaults to MENTOR_KB_DOCS_PATH)")
	kbIndexCmd.Flags().BoolVar(&kbWatch, "watch", false, "re-index on file changes until interrupted")
	kbCmd.AddCommand(kbIndexCmd)
}

func runKBIndex(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App, _ config.Config) error {
		if kbDocsPath != "" {
			a.Builder.Root = kbDocsPath
		}
		report, err := a.Builder.Build(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			_, _ = fmt.Fprintf(out, "Indexed %d documents into %d chunks in %s.\n",
				report.Documents, report.Chunks, report.Duration.Round(time.Millisecond))
		}
		if !kbWatch {
			return nil
		}

		w, err := knowledge.NewWatcher(a.Builder, 500*time.Millisecond)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
		_, _ = fmt.Fprintf(out, "Watching %s. Press Ctrl-C to stop.\n", a.Builder.Root)
		for ev := range w.Events() {
			_, _ = fmt.Fprintln(out, describeWatchEvent(ev))
		}
		return nil
	})
}

func describeWatchEvent(ev knowledge.WatchEvent) string {
	switch {
	case ev.Err != nil:
		return fmt.Sprintf("%s: %v", ev.Path, ev.Err)
	case ev.Removed:
		return fmt.Sprintf("%s: removed", ev.Path)
	default:
		return fmt.Sprintf("%s: %d chunks", ev.Path, ev.Chunks)
	}
}
