package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/daemon"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index the memory directory",
	Long: `Scan the memory directory and bring the search index up to date.
Unchanged files are skipped; files deleted on disk are removed from the index.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLogger, err := newConsoleLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()

	manager, err := daemon.NewMemoryManager(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open memory: %w", err)
	}
	defer manager.Close()

	stats, err := manager.Sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sync complete: %d added, %d updated, %d deleted, %d unchanged\n",
		stats.Added, stats.Updated, stats.Deleted, stats.Unchanged)
	return nil
}
