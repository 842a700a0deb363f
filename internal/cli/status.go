package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and memory status",
	Long: `Show whether the daemon is running and summarize the memory index:
file and chunk counts, search capabilities, and the last sync time.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printDaemonState(out, cfg.PIDFile())

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

	st := manager.Status(cmd.Context())

	fmt.Fprintf(out, "Memory: %s\n", cfg.Memory.Dir)
	fmt.Fprintf(out, "  Files: %d\n", st.TotalFiles)
	fmt.Fprintf(out, "  Chunks: %d\n", st.TotalChunks)
	fmt.Fprintf(out, "  Keyword search: %s\n", availability(st.FTSAvailable))
	fmt.Fprintf(out, "  Vector search: %s\n", availability(st.VecAvailable))
	if st.LastSyncTime != nil {
		fmt.Fprintf(out, "  Last sync: %s\n", st.LastSyncTime.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "  Last sync: never\n")
	}
	return nil
}

// printDaemonState prints one stanza about the background daemon process.
func printDaemonState(out io.Writer, pidFile string) {
	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil || !daemon.ProcessRunning(pid) {
		fmt.Fprintln(out, "Daemon: stopped")
		return
	}

	fmt.Fprintln(out, "Daemon: running")
	fmt.Fprintf(out, "  PID: %d\n", pid)
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "  Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
