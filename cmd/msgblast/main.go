package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msgblast/internal/app"
	logx "msgblast/pkg/logx"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.Parse()

	// Errors before the config is loaded, and after logging is closed, go to
	// stderr as JSON.
	boot := logx.NewWriter(os.Stderr, "info").With(logx.String("comp", "main"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("fatal start", logx.Err(err))
		_ = a.Stop(context.Background())
		os.Exit(1)
	}

	<-a.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	code := 0
	if err := a.Err(); err != nil {
		boot.Error("fatal", logx.Err(err))
		code = 1
	}
	if err := a.Stop(stopCtx); err != nil {
		boot.Error("stop failed", logx.Err(err))
		code = 1
	}
	os.Exit(code)
}
