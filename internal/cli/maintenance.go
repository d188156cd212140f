package cli

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/iliyamo/cruisesync/internal/database"
	"github.com/iliyamo/cruisesync/internal/pricing"
	"github.com/iliyamo/cruisesync/internal/repository"
	"github.com/iliyamo/cruisesync/internal/utils"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var db *sql.DB
			return withApp(cmd.Context(), func() error {
				if err := database.Migrate(cmd.Context(), db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}, &db)
		},
	}
}

const resummarizePage = 500

func newResummarizeCmd() *cobra.Command {
	var (
		sailingID int64
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "resummarize",
		Short: "Rebuild cheapest-price summaries from stored pricing rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (sailingID > 0) == all {
				return errors.New("pass exactly one of --sailing or --all")
			}
			var (
				cruises *repository.CruiseRepo
				agg     *pricing.Aggregator
			)
			return withApp(cmd.Context(), func() error {
				ctx := cmd.Context()
				w := cmd.OutOrStdout()
				if !all {
					s, err := cruises.GetSailing(ctx, sailingID)
					if err != nil {
						return errors.Wrapf(err, "sailing %d", sailingID)
					}
					sum, err := agg.Recompute(ctx, s.ID)
					if err != nil {
						return err
					}
					cheapest := "none"
					if sum.Cheapest.Valid {
						cheapest = sum.Cheapest.Decimal.StringFixed(2)
					}
					fmt.Fprintf(w, "sailing %d: cheapest %s\n", sailingID, cheapest)
					return nil
				}

				var (
					after  uint64
					done   int
					failed int
				)
				for {
					ids, err := cruises.ListSailingIDs(ctx, after, resummarizePage)
					if err != nil {
						return err
					}
					if len(ids) == 0 {
						break
					}
					for _, id := range ids {
						if _, err := agg.Recompute(ctx, id); err != nil {
							if ctx.Err() != nil {
								return ctx.Err()
							}
							failed++
							fmt.Fprintf(w, "%s sailing row %d: %v\n", color.New(color.FgRed).Sprint("failed"), id, err)
							continue
						}
						done++
					}
					after = ids[len(ids)-1]
				}
				fmt.Fprintf(w, "resummarized %d sailings, %d failed\n", done, failed)
				if failed > 0 {
					return errors.Newf("%d summaries could not be rebuilt", failed)
				}
				return nil
			}, &cruises, &agg)
		},
	}
	cmd.Flags().Int64Var(&sailingID, "sailing", 0, "supplier sailing id")
	cmd.Flags().BoolVar(&all, "all", false, "rebuild every sailing")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin JWT for the /admin endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}
			tok, err := utils.NewAccessToken(cfg.JWT.Secret, subject, utils.RoleAdmin, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded in request logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to ACCESS_TOKEN_TTL")
	return cmd
}
