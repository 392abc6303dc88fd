// SPDX-License-Identifier: Apache-2.0

// Package main implements the weft CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/telemetry"
)

type globalFlags struct {
	ConfigPath string
	LogLevel   string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.Load(global.ConfigPath)
	if err != nil {
		fatal(err)
	}
	if global.LogLevel != "" {
		cfg.Log.Level = global.LogLevel
	}
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, "dev", telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: true,
		})
		if err != nil {
			fatal(err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	switch args[0] {
	case "validate":
		runValidate(global, args[1:])
	case "graph":
		runGraph(global, args[1:])
	case "run":
		runProcess(ctx, global, cfg, args[1:])
	case "help":
		printUsage()
	case "version":
		printVersion()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ConfigPath: strings.TrimSpace(os.Getenv("WEFT_CONFIG")),
		Timeout:    60 * time.Second,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--log-level":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --log-level")
			}
			flags.LogLevel = args[i+1]
			i++
		case strings.HasPrefix(arg, "--log-level="):
			flags.LogLevel = strings.TrimPrefix(arg, "--log-level=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printVersion() {
	fmt.Println("dev")
}

func printUsage() {
	fmt.Println(`weft - declarative agent manifest runtime

Usage:
  weft [global flags] <command> [args]

Global flags:
  --config <path>      Path to config YAML (or WEFT_CONFIG)
  --log-level <level>  Override log level (debug|info|warn|error)
  --timeout <dur>      Run deadline (default 60s)
  --json               JSON output

Commands:
  validate <manifest.yaml>
  graph <manifest.yaml>
  run <manifest.yaml> --process <name> --prompt <text>
  version`)
}

func fatal(err error) {
	printCLIError(err, false)
	os.Exit(1)
}
