package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/daemon"
)

var searchTopK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the memory index",
	Long: `Run a hybrid keyword and vector search over the memory index and
print the best matching chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "number of results (default from config)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	topK := searchTopK
	if topK <= 0 {
		topK = cfg.Memory.SearchTopK
	}

	query := strings.Join(args, " ")
	results, err := manager.Search(cmd.Context(), query, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	for i, r := range results {
		fmt.Fprintf(out, "%d. %s:%d-%d (score %.3f)\n", i+1, r.Path, r.StartLine, r.EndLine, r.Score)
		snippet := strings.TrimSpace(r.Snippet)
		if snippet != "" {
			for _, line := range strings.Split(snippet, "\n") {
				fmt.Fprintf(out, "   %s\n", line)
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}
