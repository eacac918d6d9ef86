package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentboard/agentboard/internal/api"
	"github.com/agentboard/agentboard/internal/daemon"
	"github.com/agentboard/agentboard/internal/dispatch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server in the foreground",
	Long: `Run the agentboard HTTP API server in the foreground.

Mentioned agents are notified through a background dispatch queue that
drains on shutdown. Use 'serve start' to run detached instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "agentboard-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "agentboard-serve.log")
}

// newDispatcher builds the mention dispatcher from config. The gateway is
// primary; the CLI runner is the fallback. Either may be absent.
func newDispatcher() (*dispatch.Dispatcher, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	var primary, fallback dispatch.Transport
	if url := viper.GetString("gateway.url"); url != "" {
		timeout := time.Duration(viper.GetInt("gateway.timeout_seconds")) * time.Second
		primary = dispatch.NewGateway(url, viper.GetString("gateway.token"), timeout)
	}
	if bin := viper.GetString("runner.bin"); bin != "" {
		timeout := time.Duration(viper.GetInt("runner.timeout_seconds")) * time.Second
		fallback = dispatch.NewRunner(bin, timeout)
	}
	if primary == nil {
		primary, fallback = fallback, nil
	}

	return dispatch.NewDispatcher(s, primary, fallback), nil
}

func serveRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	d, err := newDispatcher()
	if err != nil {
		return err
	}
	queue := dispatch.NewQueue(d, viper.GetInt("dispatch.queue_size"))

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()
	queue.Start(ctx)

	server := api.NewServer(s, queue, viper.GetString("master_token"))
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", viper.GetInt("port")),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	ui.Info("Serving API at http://localhost%s", httpServer.Addr)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	// Drain in-flight dispatch jobs before exiting.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := queue.Shutdown(shutdownCtx); err != nil {
		ui.Warning("Dispatch queue did not drain: %v", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	if dryRun {
		ui.DryRunMsg("Would start server on port %d", viper.GetInt("port"))
		return nil
	}

	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	child := exec.Command(exe, "serve", "--port", fmt.Sprint(viper.GetInt("port")))
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}

	// Give it a moment to shut down cleanly, then force.
	for i := 0; i < 50; i++ {
		if _, still := pf.IsRunning(); !still {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = pf.Signal(sigKILL())
	_ = pf.Remove()
	ui.Warning("Server killed after timeout (pid %d)", pid)
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Info("Server running (pid %d) on port %d", pid, viper.GetInt("port"))
		return nil
	}
	ui.Info("Server not running")
	return nil
}
