// Command spsp-bridge runs a standalone SPSP bridge process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/davidb137/spsp/pkg/bridgeserver"
)

var opt struct {
	Config    string
	Secrets   string
	LogLevel  string
	LogPretty bool
	Help      bool
}

func init() {
	pflag.StringVarP(&opt.Config, "config", "c", "spsp-bridge.ini", "Path to the bridge configuration file")
	pflag.StringVarP(&opt.Secrets, "secrets", "s", "spsp-bridge.env", "Path to the secrets env-file (password, mqtt credentials)")
	pflag.StringVarP(&opt.LogLevel, "log-level", "l", "info", "Minimum log level")
	pflag.BoolVar(&opt.LogPretty, "log-pretty", true, "Use a human-readable console log format")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 0 || opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	level, err := zerolog.ParseLevel(opt.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse log level: %v\n", err)
		os.Exit(1)
	}
	var out zerolog.Logger
	if opt.LogPretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	} else {
		out = zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}

	secretsPath := opt.Secrets
	if _, err := os.Stat(secretsPath); err != nil {
		secretsPath = ""
	}

	cfg, err := bridgeserver.Load(opt.Config, secretsPath)
	if err != nil {
		out.Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	srv, err := bridgeserver.New(cfg, out)
	if err != nil {
		out.Err(err).Msg("failed to initialize server")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hch := make(chan os.Signal, 1)
	signal.Notify(hch, syscall.SIGHUP)
	go func() {
		for range hch {
			out.Info().Msg("got SIGHUP, reloading")
			srv.HandleSIGHUP()
		}
	}()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		out.Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}
