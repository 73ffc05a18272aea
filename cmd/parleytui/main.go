package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/profile"
	"github.com/matheus3301/parley/internal/tui"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var profileFlag string
	var noStart bool

	flagSet := pflag.NewFlagSet("parleytui", pflag.ContinueOnError)
	flagSet.StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	flagSet.BoolVar(&noStart, "no-start", false, "do not start parleyd when it is not running")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	socketPath := profile.SocketPath(name)

	c, err := control.Dial(socketPath)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(c) {
		if noStart {
			return fmt.Errorf("daemon not running for profile %q", name)
		}
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
		if !waitForDaemon(c, 10*time.Second) {
			return fmt.Errorf("daemon did not become ready, see %s", profile.LogPath(name))
		}
	}

	logger, err := logging.NewFileOnly(filepath.Join(profile.LogDir(name), "parleytui.log"), name)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("tui started", zap.String("socket", socketPath))
	return tui.NewApp(c, logger).Run()
}

// probeDaemon checks that the daemon answers on its socket.
func probeDaemon(c *control.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Status(ctx)
	return err == nil
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	parleyd := filepath.Join(filepath.Dir(executable), "parleyd")
	if _, err := os.Stat(parleyd); err != nil {
		parleyd = "parleyd"
	}

	// The daemon outlives the TUI and must not write over its screen; its
	// log file has the details.
	cmd := exec.Command(parleyd, "--profile", name)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

// waitForDaemon polls Status until it succeeds or timeout passes.
func waitForDaemon(c *control.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(c) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
