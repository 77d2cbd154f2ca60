package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ashita-ai/mathmentor/internal/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRun(w io.Writer, v model.RunView) error {
	if jsonOut {
		return printJSON(w, v)
	}
	return renderRun(w, v)
}

// renderRun prints what a student needs from a run: the answer and its
// explanation when solved, otherwise the status message and the run ID to
// act on.
func renderRun(w io.Writer, v model.RunView) error {
	r := v.RunState
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

	p("Run %s: %s\n", r.ID, r.Status)
	if r.Routing != nil {
		p("Topic: %s\n", displayTopic(r.Routing.Topic))
	}
	if r.Solution != nil {
		p("\n")
		for _, s := range r.Solution.Steps {
			if s.Result != "" {
				p("  %d. %s => %s\n", s.Number, s.Description, s.Result)
			} else {
				p("  %d. %s\n", s.Number, s.Description)
			}
		}
		if r.Solution.Answer != "" {
			p("\nAnswer: %s\n", r.Solution.Answer)
		}
	}
	if r.Explanation != nil && r.Explanation.Text != "" {
		p("\n%s\n", r.Explanation.Text)
	}
	if v.ConfidenceLabel != "" {
		p("\nConfidence: %s\n", v.ConfidenceLabel)
	}
	if r.Status != model.RunStatusCompleted {
		p("\n%s\n", v.Message)
	}
	if r.Status == model.RunStatusCompleted && !v.Persisted {
		p("(not saved to memory)\n")
	}
	return nil
}

func printStats(w io.Writer, st model.Statistics) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Problems solved:\t%d\n", st.SolvedCount)
	_, _ = fmt.Fprintf(tw, "Success rate:\t%.1f%% (%d correct, %d incorrect)\n", st.SuccessRate, st.CorrectCount, st.IncorrectCount)
	_, _ = fmt.Fprintf(tw, "Average confidence:\t%.2f\n", st.AvgConfidence)
	if len(st.Topics) > 0 {
		_, _ = fmt.Fprintln(tw)
		_, _ = fmt.Fprintln(tw, "TOPIC\tSOLVED\tCORRECT\tINCORRECT\tAVG CONF")
		for _, t := range st.Topics {
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\n",
				displayTopic(t.Topic), t.SolvedCount, t.CorrectCount, t.IncorrectCount, t.AvgConfidence)
		}
	}
	return tw.Flush()
}

func printSimilar(w io.Writer, hits []model.SimilarSolution) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintln(w, "No similar problems stored yet.")
		return err
	}
	for i, h := range hits {
		_, _ = fmt.Fprintf(w, "%d. [%.2f] %s\n", i+1, h.Similarity, h.Problem)
		_, _ = fmt.Fprintf(w, "   %s\n", oneLine(h.Solution, 160))
	}
	return nil
}

func displayTopic(t string) string {
	if t == "" {
		return "unknown"
	}
	return t
}

// oneLine collapses whitespace and cuts s to at most n runes.
func oneLine(s string, n int) string {
	var out []rune
	space := false
	for _, r := range s {
		if r == '\n' || r == '\t' || r == ' ' || r == '\r' {
			space = len(out) > 0
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, r)
	}
	if len(out) > n {
		return string(out[:n-1]) + "…"
	}
	return string(out)
}
