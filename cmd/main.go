package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/jaxxstorm/nextver"
)

// Version will be set by build process
var Version = "dev"

type CLI struct {
	Repo        string `short:"r" help:"Repository path (default: current directory)"`
	Config      string `short:"c" type:"path" help:"Path to a configuration file"`
	Output      string `short:"o" default:"full" enum:"full,semver,json" help:"Output format"`
	Verbose     bool   `short:"v" help:"Enable debug logging"`
	ShowVersion bool   `help:"Show version information" name:"version"`
}

func main() {
	var cli CLI

	kong.Parse(&cli,
		kong.Name("nextver"),
		kong.Description("Calculate the next semantic version from Git repository state"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)

	err := cli.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *CLI) Run() error {
	if c.ShowVersion {
		fmt.Printf("nextver version %s\n", Version)
		return nil
	}

	var logger *slog.Logger
	if c.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	repoPath := c.Repo
	if repoPath == "" {
		var err error
		repoPath, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
	}

	cfg := nextver.DefaultConfig()
	if c.Config != "" {
		var err error
		cfg, err = nextver.LoadConfigFile(c.Config)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
	}

	repo, err := nextver.OpenRepository(repoPath)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}

	snapshot, err := nextver.LoadRepository(repo)
	if err != nil {
		return fmt.Errorf("loading repository: %w", err)
	}

	version, err := nextver.NewCalculator(cfg, snapshot, logger).NextVersion()
	if err != nil {
		return fmt.Errorf("calculating version: %w", err)
	}

	return writeOutput(os.Stdout, version, c.Output)
}

func writeOutput(w io.Writer, version nextver.SemanticVersion, format string) error {
	switch format {
	case "semver":
		_, err := fmt.Fprintln(w, version.String())
		return err
	case "json":
		return json.NewEncoder(w).Encode(nextver.NewVariables(version))
	default:
		_, err := fmt.Fprintln(w, version.FullSemVer())
		return err
	}
}
