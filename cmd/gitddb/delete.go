package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openDB(context.Background())
		if err != nil {
			fatal(err)
		}
		defer db.Close(0)

		result, err := db.Delete(args[0])
		if err != nil {
			fatal(err)
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	},
}
