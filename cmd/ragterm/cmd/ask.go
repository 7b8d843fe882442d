package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ragterm/internal/service"
)

type askOptions struct {
	reindex    bool
	showPrompt bool
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var ao askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the indexed files",
		Long: `Retrieve the chunks closest to the question, build a prompt from them
and print the generated answer followed by its sources.

Examples:
  ragterm ask "where is the retry policy configured?"
  ragterm ask --reindex how are chunks split`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts.cfg)
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")
			return runAsk(cmd.Context(), a.orch, question, ao, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&ao.reindex, "reindex", false, "Index the sources before answering")
	cmd.Flags().BoolVar(&ao.showPrompt, "show-prompt", false, "Print the prompt sent to the model")
	return cmd
}

func runAsk(ctx context.Context, orch jobRunner, question string, opts askOptions, out, progress io.Writer) error {
	if opts.reindex {
		if err := runIndex(ctx, orch, progress, progress); err != nil {
			return err
		}
	}

	if _, err := orch.StartQuery(ctx, question); err != nil {
		return err
	}
	st := await(orch, service.KindQuery, progress)
	if st.Phase != service.PhaseSucceeded {
		return jobError(st)
	}

	a := st.Answer
	if opts.showPrompt {
		fmt.Fprintf(out, "--- system ---\n%s\n--- user ---\n%s\n--- answer ---\n", a.Prompt.System, a.Prompt.User)
	}
	fmt.Fprintln(out, a.Text)
	if a.Note != "" {
		fmt.Fprintf(out, "\nnote: %s\n", a.Note)
	}
	if len(a.Hits) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for i, h := range a.Hits {
			fmt.Fprintf(out, "  [%d] %s (chunk %d) score=%.3f\n", i+1, h.Chunk.Path, h.Chunk.Ordinal, h.Score)
		}
	}
	fmt.Fprintf(progress, "answered in %s\n", a.Elapsed.Round(time.Millisecond))
	return nil
}
