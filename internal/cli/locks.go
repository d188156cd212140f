package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/iliyamo/cruisesync/internal/lock"
)

func newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and clear per-line ingestion locks",
	}
	cmd.AddCommand(newLocksListCmd(), newLocksClearCmd())
	return cmd
}

func newLocksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List held locks with their age and remaining TTL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var locks *lock.Manager
			return withApp(cmd.Context(), func() error {
				infos, err := locks.ListActive(cmd.Context())
				if err != nil {
					return err
				}
				printLocks(cmd.OutOrStdout(), infos)
				return nil
			}, &locks)
		},
	}
}

func newLocksClearCmd() *cobra.Command {
	var (
		lineID int64
		stale  bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Force-clear one line's lock or every stale lock",
		Long: `Clearing a live lock lets a second run start while the first is still
writing; the first run notices at its next lock check and aborts.  Prefer
--stale unless the holder is known to be dead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (lineID > 0) == stale {
				return errors.New("pass exactly one of --line or --stale")
			}
			var locks *lock.Manager
			return withApp(cmd.Context(), func() error {
				w := cmd.OutOrStdout()
				if stale {
					cleared, err := locks.ClearStale(cmd.Context())
					if err != nil {
						return err
					}
					if len(cleared) == 0 {
						fmt.Fprintln(w, "no stale locks")
						return nil
					}
					fmt.Fprintf(w, "cleared stale locks for lines %v\n", cleared)
					return nil
				}
				ok, err := locks.ForceClear(cmd.Context(), lineID)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(w, "line %d was not locked\n", lineID)
					return nil
				}
				fmt.Fprintf(w, "cleared lock for line %d\n", lineID)
				return nil
			}, &locks)
		},
	}
	cmd.Flags().Int64Var(&lineID, "line", 0, "line whose lock to clear")
	cmd.Flags().BoolVar(&stale, "stale", false, "clear every lock flagged stale")
	return cmd
}

func printLocks(w io.Writer, infos []lock.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "no locks held")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tOWNER\tAGE\tREMAINING\tSTATE")
	for _, i := range infos {
		state := color.New(color.FgGreen).Sprint("live")
		if i.Stale {
			state = color.New(color.FgRed, color.Bold).Sprint("STALE")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i.LineID, i.Owner, i.Age.Round(time.Second), i.Remaining.Round(time.Second), state)
	}
	_ = tw.Flush()
}
