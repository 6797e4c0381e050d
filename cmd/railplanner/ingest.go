package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"railplanner.dev/core/download"
	"railplanner.dev/core/feed"
	"railplanner.dev/core/ingest"
	"railplanner.dev/core/progress"
)

var (
	localStorageDir string
	backupToLocal   bool
	disableDownload bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "refresh any outdated feeds and reload the database",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&localStorageDir, "local-storage-dir", "", "", "local cache directory for disabled-download/backup feed files")
	ingestCmd.Flags().BoolVarP(&backupToLocal, "backup", "", false, "copy downloaded feed files to local-storage-dir")
	ingestCmd.Flags().BoolVarP(&disableDownload, "offline", "", false, "read feed files from local-storage-dir instead of downloading")
}

func runIngest(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	dl := download.New(apiBaseURL, authURL, dataDir, log)
	orchestrator := ingest.New(st, dl, progress.New(), log, feed.Feeds())

	return orchestrator.Run(context.Background(), ingest.Options{
		Username:        username,
		Password:        password,
		DisableDownload: disableDownload,
		BackupToLocal:   backupToLocal,
		LocalStorageDir: localStorageDir,
	})
}
