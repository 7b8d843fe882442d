package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"ragterm/internal/domain"
	"ragterm/internal/service"
)

const progressInterval = 250 * time.Millisecond

func newIndexCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Index the configured source directories",
		Long: `Scan the configured roots, chunk and embed every matching file and
upsert the vectors into the configured store. Re-running is idempotent:
unchanged chunks keep their IDs and stale tail chunks are pruned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(opts.cfg)
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), a.orch, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// jobRunner is what the headless commands need from the orchestrator.
type jobRunner interface {
	StartIndex(ctx context.Context) (uint64, error)
	StartQuery(ctx context.Context, text string) (uint64, error)
	Snapshot(kind service.JobKind) service.JobState
	Wait(ctx context.Context, kind service.JobKind) (service.JobState, error)
}

func runIndex(ctx context.Context, orch jobRunner, out, progress io.Writer) error {
	if _, err := orch.StartIndex(ctx); err != nil {
		return err
	}
	st := await(orch, service.KindIndex, progress)
	if st.Phase != service.PhaseSucceeded {
		return jobError(st)
	}

	r := st.Index
	fmt.Fprintf(out, "Indexed %d files into %d chunks in %s\n",
		r.Documents, r.Records, r.Elapsed.Round(time.Millisecond))
	for _, w := range r.Warnings {
		fmt.Fprintf(out, "  skipped %s\n", w)
	}
	if r.Digest != "" {
		fmt.Fprintf(out, "\n%s\n", r.Digest)
	}
	return nil
}

// await reports stage changes to progress until the job is terminal. The
// job's own context carries cancellation, so waiting never gives up early.
func await(orch jobRunner, kind service.JobKind, progress io.Writer) service.JobState {
	done := make(chan service.JobState, 1)
	go func() {
		st, _ := orch.Wait(context.Background(), kind)
		done <- st
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case st := <-done:
			return st
		case <-ticker.C:
			if line := progressLine(orch.Snapshot(kind)); line != "" && line != last {
				fmt.Fprintln(progress, line)
				last = line
			}
		}
	}
}

func progressLine(st service.JobState) string {
	if !st.Running() || st.Stage == "" {
		return ""
	}
	if st.Progress.Total > 0 {
		return fmt.Sprintf("%s %d/%d", st.Stage, st.Progress.Done, st.Progress.Total)
	}
	return string(st.Stage) + "..."
}

func jobError(st service.JobState) error {
	if errors.Is(st.Err, domain.ErrCancelled) {
		return fmt.Errorf("%s cancelled during %s", st.Kind, st.Stage)
	}
	return fmt.Errorf("%s failed during %s: %w", st.Kind, st.Stage, st.Err)
}
