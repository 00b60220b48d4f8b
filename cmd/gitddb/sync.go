package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ondisk/gitddb"
)

var syncCmd = &cobra.Command{
	Use:   "sync <remote-url>",
	Short: "Fetch, merge, and push against a remote once",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDB(context.Background())
		if err != nil {
			fatal(err)
		}
		defer db.Close(0)

		pushOnly, _ := cmd.Flags().GetBool("push-only")
		direction := gitddb.SyncBoth
		if pushOnly {
			direction = gitddb.SyncPush
		}
		result, err := db.Sync("origin", gitddb.SyncOptions{RemoteURL: args[0], SyncDirection: direction})
		if err != nil {
			fatal(err)
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	syncCmd.Flags().Bool("push-only", false, "restrict to the push half of sync")
}
