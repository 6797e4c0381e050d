package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "railplanner.dev/core/dtd"
	_ "railplanner.dev/core/kbxml"
	"railplanner.dev/core/store"
)

var rootCmd = &cobra.Command{
	Use:          "railplanner",
	Short:        "UK rail trip planner",
	Long:         "Ingests National Rail open data feeds and answers journey and fare queries against them",
	SilenceUsage: true,
}

var (
	dataDir    string
	apiBaseURL string
	authURL    string
	username   string
	password   string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "", ".", "directory holding the SQLite database")
	rootCmd.PersistentFlags().StringVarP(&apiBaseURL, "api-url", "", "https://opendata.nationalrail.co.uk/api", "National Rail open data API base URL")
	rootCmd.PersistentFlags().StringVarP(&authURL, "auth-url", "", "https://opendata.nationalrail.co.uk/authenticate", "token authentication URL")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "", "", "National Rail open data username")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "", "", "National Rail open data password")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(journeyCmd)
	rootCmd.AddCommand(farexportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openStore() (store.Store, error) {
	return store.NewSQLiteStore(store.SQLiteConfig{OnDisk: true, Directory: dataDir})
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}
