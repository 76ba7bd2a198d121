package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rehearse/internal/log"
	"github.com/teslashibe/go-rehearse/pkg/session"
	"github.com/teslashibe/go-rehearse/pkg/store"
)

func newHistoryCmd(g *globals) *cobra.Command {
	var (
		user    string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a user's saved sessions and analytics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx := context.Background()

			st, err := store.New(ctx, cfg.Store, log.L())
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.ListAll(ctx, user)
			if err != nil {
				return err
			}
			analytics := session.Analyze(records)

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Sessions  []session.Record  `json:"sessions"`
					Analytics session.Analytics `json:"analytics"`
				}{records, analytics})
			}

			if len(records) == 0 {
				fmt.Printf("No sessions for %s.\n", user)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSCENARIO\tCATEGORY\tAVG\tMIN\tSILENCE\tPAUSES")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%.0f\t%.0f%%\t%d\n",
					r.Timestamp.Local().Format("2006-01-02 15:04"),
					r.ScenarioTitle, r.Category,
					r.AvgConfidence, r.MinConfidence,
					r.SilenceRatio*100, r.LongPauseCount)
			}
			w.Flush()

			fmt.Printf("\n%d sessions, %d without speech\n", analytics.Sessions, analytics.NeverSpoke)
			categories := make([]string, 0, len(analytics.ByCategory))
			for c := range analytics.ByCategory {
				categories = append(categories, c)
			}
			sort.Strings(categories)
			for _, c := range categories {
				fmt.Printf("  %-16s %.0f\n", c, analytics.ByCategory[c])
			}
			if analytics.SelfEvaluationDrop != nil {
				fmt.Printf("Drop from casual to self-evaluation: %.0f\n", *analytics.SelfEvaluationDrop)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", store.GuestUser, "user id")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}
