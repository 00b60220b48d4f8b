package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ondisk/gitddb"
)

var putCmd = &cobra.Command{
	Use:   "put <json>",
	Short: "Upsert a document from a JSON object",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var doc gitddb.Document
		if err := json.Unmarshal([]byte(args[0]), &doc); err != nil {
			fatal(fmt.Errorf("parse document: %w", err))
		}
		db, err := openDB(context.Background())
		if err != nil {
			fatal(err)
		}
		defer db.Close(0)

		message, _ := cmd.Flags().GetString("message")
		result, err := db.Put(doc, gitddb.PutOptions{CommitMessage: message})
		if err != nil {
			fatal(err)
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	putCmd.Flags().String("message", "", "commit message override")
}
