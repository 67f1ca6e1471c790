package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	journalLimit        int
	journalConversation string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recently journaled cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeDB, err := openJournal(cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		defer closeDB(ctx)

		cycles, err := store.Recent(ctx, journalConversation, journalLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tCONVERSATION\tOUTCOME\tFUNCTION\tBYTES\tDURATION\tERROR")
		for _, c := range cycles {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				c.StartedAt.Format(time.DateTime), c.ConversationID, c.Outcome, c.Function,
				c.ContentBytes, c.Duration, c.Error)
		}
		return tw.Flush()
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "number of cycles to show")
	journalCmd.Flags().StringVar(&journalConversation, "conversation", "", "only show this conversation")
}
