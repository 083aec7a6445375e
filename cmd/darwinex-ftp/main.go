package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/config"
)

const usage = `Usage: darwinex-ftp [flags] <command> [args]

Commands:
  ls [dir]    list a remote directory (default /)
  dates       show the available year-month range of each darwin
  download    download quotes into the combined table
  inspect     summarise the snapshot and the Parquet export

Flags:
`

func main() {
	fs := flag.NewFlagSet("darwinex-ftp", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "Path to configuration file")
	ov := registerOverrides(fs)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := ov.apply(fs, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		os.Exit(2)
	}

	logger, err := createLogger(cfg.Application.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp(cfg, logger, os.Stdout)
	if err := app.run(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		logger.Error("Command failed", zap.String("command", fs.Arg(0)), zap.Error(err))
		stop()
		logger.Sync()
		os.Exit(1)
	}
}

func createLogger(level string) (*zap.Logger, error) {
	var config zap.Config

	switch level {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "warn":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config = zap.NewProductionConfig()
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}
