// Command speakwell scores spoken utterances against an expected sentence.
//
//	speakwell score --expected "..." --aligned aligned.json --audio take.wav
//	speakwell batch --manifest utterances.jsonl
//	speakwell serve --config speakwell.yaml
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/config"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:          "speakwell",
		Short:        "Score spoken utterances word by word",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to the YAML configuration file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newScoreCmd(&g),
		newBatchCmd(&g),
		newServeCmd(&g),
	)
	return root
}

// loadConfig reads the configured file, or the defaults when none is given,
// and applies the --log-level override.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		cfg, err = config.Load(g.configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found", g.configPath)
			}
			return nil, err
		}
	}
	if g.logLevel != "" {
		lvl := config.LogLevel(g.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	return cfg, nil
}

// newLogger builds a text logger on stderr whose level can change at runtime.
func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	var lvl slog.LevelVar
	lvl.Set(level.Level())
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &lvl})), &lvl
}
