package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/daemon"
	"github.com/harun/nara/pkg/agent"
	"github.com/harun/nara/pkg/skills"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot question",
	Long: `Ask a single question and print the reply. The memory index is
synced first so the answer sees the latest files. No session is kept.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLogger, err := newConsoleLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()

	ctx := cmd.Context()

	manager, err := daemon.NewMemoryManager(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open memory: %w", err)
	}
	defer manager.Close()

	if _, err := manager.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("memory sync failed, answering from the existing index")
	}

	loader := skills.NewLoader(skills.LoaderConfig{Dir: cfg.Skills.Dir, Logger: log})
	skillSet, err := loader.Discover()
	if err != nil {
		log.Warn().Err(err).Msg("skill discovery failed")
	}

	completer, err := daemon.NewCompleter(cfg, log)
	if err != nil {
		return err
	}

	ag, err := agent.New(agent.Config{
		Memory:    manager,
		Completer: completer,
		Skills:    skillSet,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	reply, err := ag.Chat(ctx, nil, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}
