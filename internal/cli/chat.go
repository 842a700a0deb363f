package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/daemon"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with nara on the terminal",
	Long: `Start an interactive terminal session. The full runtime comes up in
the foreground: memory is synced and watched, skills are loaded, and the
heartbeat runs if enabled. Quit with Ctrl+C.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Chat always talks on the terminal, whatever the config says.
	cfg.Channels.Terminal.Enabled = true

	log, closeLogger, err := newRuntimeLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closeLogger()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
