package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/model"
)

func newSyncCmd() *cobra.Command {
	var (
		lineID   int64
		paths    []string
		currency string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one line's ingestion in the foreground",
		Long: `Runs a full ingestion of one cruise line, or only the given document
paths, and prints the outcome.  The line lock is honored: if another run
holds the line the command reports it as busy and writes nothing.`,
		Example: `  cruisesync sync --line 21
  cruisesync sync --line 21 --path 2026/05/21/410/900123.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lineID <= 0 {
				return errors.New("--line must be a positive line id")
			}
			var coord *ingest.Coordinator
			return withApp(cmd.Context(), func() error {
				out, err := coord.RunNow(cmd.Context(), ingest.Request{
					LineID:   lineID,
					Paths:    paths,
					Currency: strings.ToUpper(currency),
					Source:   ingest.SourceCLI,
				})
				if errors.Is(err, ingest.ErrLineBusy) {
					fmt.Fprintf(cmd.OutOrStdout(), "line %d is busy: %s\n", lineID, statusColor(model.RunSkipped).Sprint("skipped"))
					return err
				}
				if err != nil {
					return err
				}
				printOutcome(cmd.OutOrStdout(), out)
				if out.Status == model.RunFailed || out.Status == model.RunAborted {
					return errors.Newf("run %s %s", out.RunID, out.Status)
				}
				return nil
			}, &coord)
		},
	}
	cmd.Flags().Int64Var(&lineID, "line", 0, "supplier cruise line id")
	cmd.Flags().StringSliceVar(&paths, "path", nil, "document path to process instead of listing the line (repeatable)")
	cmd.Flags().StringVar(&currency, "currency", "", "pricing currency, defaults to SYNC_DEFAULT_CURRENCY")
	_ = cmd.MarkFlagRequired("line")
	return cmd
}

func statusColor(s model.RunStatus) *color.Color {
	switch s {
	case model.RunSucceeded:
		return color.New(color.FgGreen)
	case model.RunPartial:
		return color.New(color.FgYellow)
	case model.RunSkipped:
		return color.New(color.Faint)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func printOutcome(w io.Writer, o model.RunOutcome) {
	fmt.Fprintf(w, "run %s line %d: %s\n", o.RunID, o.LineID, statusColor(o.Status).Sprint(o.Status))
	fmt.Fprintf(w, "  sailings seen:    %d\n", o.SailingsSeen)
	fmt.Fprintf(w, "  sailings updated: %d\n", o.SailingsUpdated)
	fmt.Fprintf(w, "  pricing rows:     %d\n", o.PricingRowsWritten)
	fmt.Fprintf(w, "  duration:         %s\n", o.FinishedAt.Sub(o.StartedAt).Round(time.Millisecond))
	if o.FailureReason != "" {
		fmt.Fprintf(w, "  reason:           %s\n", color.New(color.FgRed).Sprint(o.FailureReason))
	}
	if o.ErrorCount == 0 {
		return
	}
	fmt.Fprintf(w, "  errors:           %d\n", o.ErrorCount)
	for _, e := range o.Errors {
		fmt.Fprintf(w, "    [%s] %s: %s\n", e.Stage, e.Path, e.Message)
	}
	if hidden := o.ErrorCount - len(o.Errors); hidden > 0 {
		fmt.Fprintf(w, "    ... %d more\n", hidden)
	}
}
