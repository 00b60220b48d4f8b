package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print task queue completion/cancellation counters",
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDB(context.Background())
		if err != nil {
			fatal(err)
		}
		defer db.Close(0)
		fmt.Println(db.StatsSummary())
	},
}
