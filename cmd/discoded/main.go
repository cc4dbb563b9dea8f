// Command discoded is the bridge daemon entry point: it owns its own
// lifecycle (start/stop/restart/status as a detached background process)
// and, once running in the foreground, wires every component via
// internal/bootstrap and blocks until signalled to stop.
//
// Grounded on kdlbs-kandev's cmd/kandev/main.go: load config, build a
// logger, construct a cancellable context, wire components, wait on
// SIGINT/SIGTERM, shut down with a bounded timeout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/bootstrap"
	"github.com/discode/bridge/internal/common/config"
	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/configstore"
	"github.com/discode/bridge/internal/daemon"
	"github.com/discode/bridge/internal/runtime"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	paths, err := bootstrap.DefaultPaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "discoded: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "start":
		exe, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "discoded: %v\n", err)
			os.Exit(1)
		}
		cfgStore, err := configstore.Load(paths.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discoded: load config: %v\n", err)
			os.Exit(1)
		}
		port := cfgStore.Get().HookServerPort
		pid, err := daemon.StartDetached(exe, []string{"run"}, paths.DaemonLog, paths.DaemonPID, port, 5*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discoded: start: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("discoded started, pid %d\n", pid)
	case "stop":
		if err := daemon.StopDaemon(paths.DaemonPID); err != nil {
			fmt.Fprintf(os.Stderr, "discoded: stop: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("discoded stopped")
	case "restart":
		exe, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "discoded: %v\n", err)
			os.Exit(1)
		}
		cfgStore, err := configstore.Load(paths.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discoded: load config: %v\n", err)
			os.Exit(1)
		}
		port := cfgStore.Get().HookServerPort
		pid, err := daemon.RestartDaemonIfRunning(exe, []string{"run"}, paths.DaemonLog, paths.DaemonPID, port, 5*time.Second)
		if err != nil {
			fmt.Fprintf(os.Stderr, "discoded: restart: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("discoded restarted, pid %d\n", pid)
	case "status":
		pid, err := daemon.ReadPID(paths.DaemonPID)
		if err != nil {
			fmt.Println("discoded: not running")
			return
		}
		fmt.Printf("discoded running, pid %d\n", pid)
	case "run":
		runForeground(paths)
	default:
		fmt.Fprintf(os.Stderr, "usage: discoded [start|stop|restart|status|run]\n")
		os.Exit(2)
	}
}

func runForeground(paths bootstrap.Paths) {
	svcCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "discoded: load ambient config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(svcCfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "discoded: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	cfgStore, err := configstore.Load(paths.ConfigFile)
	if err != nil {
		log.Fatal("load persisted config", zap.Error(err))
	}

	log.Info("starting discoded", zap.String("config", paths.ConfigFile), zap.String("state", paths.StateFile))

	d, err := bootstrap.Build(svcCfg, cfgStore, paths)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(ctx)
	}()

	select {
	case sig := <-quit:
		log.Info("shutting down discoded", zap.String("signal", sig.String()))
	case err := <-runErr:
		if err != nil {
			log.Error("discoded stopped unexpectedly", zap.Error(err))
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := d.Shutdown(shutdownCtx, runtime.SignalTerm); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	_ = daemon.RemovePIDFile(paths.DaemonPID)
}
