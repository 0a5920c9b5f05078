package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/migadu/popclient/config"
	"github.com/migadu/popclient/logger"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "popclient.toml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "serve":
		err = handleServe(os.Args[2:])
	case "fetch":
		err = handleFetch(os.Args[2:])
	case "build":
		err = handleBuild(os.Args[2:])
	case "version", "-version", "--version", "-v":
		fmt.Printf("popclient version %s (commit: %s, built at: %s)\n", version, commit, date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "popclient: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`popclient - POP3 client

Usage:
  popclient <command> [options]

Commands:
  serve     Run the HTTP API on top of a POP3 session
  fetch     Connect, log in, list the maildrop and optionally retrieve a message
  build     Print the request line for a command without connecting
  version   Show version information
  help      Show this help message

Examples:
  popclient serve -config /etc/popclient.toml
  popclient fetch -addr mail.example.org -tls -user alice -pass secret
  popclient fetch -addr mail.example.org -tls -user alice -pass secret -retr 1 -raw
  popclient build list 3

Use 'popclient <command> -help' for more information about a command.
`)
}

// loadConfig reads the TOML configuration. A missing default file is not an
// error; a missing file named explicitly is.
func loadConfig(path string) (config.Config, error) {
	cfg := config.NewDefaultConfig()
	if err := config.LoadConfigFromFile(path, &cfg); err != nil {
		if !os.IsNotExist(err) || path != defaultConfigPath {
			return cfg, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging applies the logging section and returns a cleanup function.
func setupLogging(cfg config.Config) (func(), error) {
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return func() {
		if logFile != nil {
			logFile.Close()
		}
	}, nil
}

// isFlagSet reports whether name was given on the command line.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
