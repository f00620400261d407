package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeLoWaN/openfront-discord-bot/internal/app"
	"github.com/DeLoWaN/openfront-discord-bot/pkg/systemd"
)

const (
	configEnvKey  = "CONFIG_PATH"
	defaultConfig = "config.yml"
	stopTimeout   = 15 * time.Second
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to config file (yaml or json); defaults to $"+configEnvKey+" or "+defaultConfig)
	flag.Parse()

	// .env is optional; a real environment always wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Println("warning: .env:", err)
	}
	if cfgPath == "" {
		cfgPath = os.Getenv(configEnvKey)
	}
	if cfgPath == "" {
		cfgPath = defaultConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	_, _ = systemd.Ready()
	stopWatchdog := watchdog(ctx)

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopWatchdog()
	_, _ = systemd.Status("stopping: " + string(reason))
	_, _ = systemd.Stopping()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	fatal := a.Err()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError && fatal != nil {
		fmt.Println("fatal:", fatal)
		os.Exit(1)
	}
}

func watchdog(ctx context.Context) func() {
	every := systemd.WatchdogInterval()
	if every <= 0 {
		return func() {}
	}
	wctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-t.C:
				_, _ = systemd.Ping()
			}
		}
	}()
	return cancel
}
