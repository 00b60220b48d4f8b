// cmd/gitddb is a thin consumer binary exercising the public gitddb
// package (SPEC_FULL.md §4.M): open/put/get/delete/sync/stats. Grounded on
// the teacher's cmd/bd command-per-file convention — one file per
// subcommand, a shared rootCmd with persistent flags bound through viper.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ondisk/gitddb"
)

var (
	flagDir string
	flagDB  string

	rootViper = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "gitddb",
	Short: "A Git-repository-backed document database",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "./git-documentdb", "local directory holding the database's working tree")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "default", "database name")
	_ = rootViper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = rootViper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	rootViper.SetEnvPrefix("GITDDB")
	rootViper.AutomaticEnv()

	rootCmd.AddCommand(putCmd, getCmd, deleteCmd, syncCmd, statsCmd)
}

// openDB opens the database named by --db under --dir, creating it if
// absent, per spec.md §4.6.
func openDB(ctx context.Context) (*gitddb.Database, error) {
	createIfNotExists := true
	db, _, err := gitddb.Open(ctx, gitddb.Options{
		DbName:            rootViper.GetString("db"),
		LocalDir:          rootViper.GetString("dir"),
		CreateIfNotExists: &createIfNotExists,
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "gitddb:", err)
	os.Exit(1)
}
