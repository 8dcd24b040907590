package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to validation so main.go
// can map them onto the core packages.
type cliConfig struct {
	listenTuners []string
	chunkSize    uint
	timeLimit    time.Duration
	eitCommand   string
	logLevel     string
	showVersion  bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("tunerd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var listenTuners stringSliceFlag
	var timeLimit string

	fs.Var(&listenTuners, "listen-tuners", "Tuner device path to make available (can be specified multiple times)")
	fs.UintVar(&cfg.chunkSize, "chunk-size", 32*1024, "Broadcaster chunk size in bytes")
	fs.StringVar(&timeLimit, "time-limit", "10s", "Broadcaster watchdog inactivity timeout")
	fs.StringVar(&cfg.eitCommand, "eit-command", "", "Mustache-templated external EIT decoder command line")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.listenTuners = listenTuners

	if cfg.chunkSize == 0 {
		return nil, errors.New("chunk-size must be greater than zero")
	}

	parsedLimit, err := time.ParseDuration(timeLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid time-limit %q: %w", timeLimit, err)
	}
	if parsedLimit <= 0 {
		return nil, errors.New("time-limit must be positive")
	}
	cfg.timeLimit = parsedLimit

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}

// stringSliceFlag implements flag.Value for repeated string flags.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
