package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/matheus3301/parley/internal/config"
	"github.com/matheus3301/parley/internal/daemon"
	"github.com/matheus3301/parley/internal/profile"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
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
	var profileFlag, socketFlag string
	var writeConfig bool

	flagSet := pflag.NewFlagSet("parleyd", pflag.ContinueOnError)
	flagSet.StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")
	flagSet.StringVar(&socketFlag, "socket", "", "control socket path (default: inside the profile directory)")
	flagSet.BoolVar(&writeConfig, "write-config", false, "write the default config file and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if writeConfig {
		path := profile.ConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return err
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, SocketPath: socketFlag}),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
	)
	app.Run()
	return nil
}
