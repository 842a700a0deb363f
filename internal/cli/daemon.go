package cli

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/internal/daemon"
)

var stopTimeout int

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
	Long: `Manage the always-on nara daemon. The daemon keeps the memory index
fresh, runs heartbeat checks, and serves the websocket gateway.`,
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Run the daemon in the foreground until interrupted. This is the
process "daemon start" launches in the background; run it directly under a
process supervisor.`,
	RunE: runDaemonRun,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Long: `Stop the background daemon gracefully. Sends SIGTERM and waits for
it to shut down, escalating to SIGKILL after the timeout.`,
	RunE: runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE:  runDaemonStatus,
}

func init() {
	daemonStopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "seconds to wait for the daemon to stop")
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The background daemon has no TTY.
	cfg.Channels.Terminal.Enabled = false

	log, closeLogger, err := newRuntimeLogger(cfg, true)
	if err != nil {
		return err
	}
	defer closeLogger()

	pidFile := cfg.PIDFile()
	if err := daemon.WritePIDFile(pidFile); err != nil {
		return err
	}
	defer daemon.RemovePIDFile(pidFile)

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := cfg.PIDFile()
	if pid, err := daemon.ReadPIDFile(pidFile); err == nil && daemon.ProcessRunning(pid) {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}

	childArgs := []string{"daemon", "run"}
	if cfgFile != "" {
		childArgs = append(childArgs, "--config", cfgFile)
	}
	if logLevel != "" {
		childArgs = append(childArgs, "--log-level", logLevel)
	}

	child := exec.Command(exe, childArgs...)
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// The child writes its own PID file once it is up.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pid, err := daemon.ReadPIDFile(pidFile); err == nil && daemon.ProcessRunning(pid) {
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (PID %d)\n", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon did not come up, check %s", cfg.Logging.File)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	// Load without validation so a broken config cannot block a stop.
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	pidFile := cfg.PIDFile()
	out := cmd.OutOrStdout()

	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}
	if !daemon.ProcessRunning(pid) {
		daemon.RemovePIDFile(pidFile)
		fmt.Fprintln(out, "Daemon is not running (stale PID file removed)")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.ProcessRunning(pid) {
			daemon.RemovePIDFile(pidFile)
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	daemon.RemovePIDFile(pidFile)
	fmt.Fprintln(out, "Daemon killed")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	printDaemonState(cmd.OutOrStdout(), cfg.PIDFile())
	return nil
}
