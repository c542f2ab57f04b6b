package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/scorer"
	"github.com/MrWong99/speakwell/pkg/audio"
)

type scoreFlags struct {
	expected   string
	aligned    string
	audio      string
	hypothesis string
	debug      bool
}

func newScoreCmd(g *globalFlags) *cobra.Command {
	var f scoreFlags
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one utterance and print the JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel)
			slog.SetDefault(logger)

			sc, err := app.BuildScorer(cfg, config.NewRegistry(), observe.DefaultMetrics())
			if err != nil {
				return err
			}
			req, err := f.request()
			if err != nil {
				return err
			}
			res, err := sc.Score(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&f.expected, "expected", "", "expected sentence")
	cmd.Flags().StringVar(&f.aligned, "aligned", "", "path to the aligned result JSON")
	cmd.Flags().StringVar(&f.audio, "audio", "", "path to the utterance WAV file")
	cmd.Flags().StringVar(&f.hypothesis, "hypothesis", "", "flat recognizer transcript for back-filling missing words")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "include debug previews in the report")
	_ = cmd.MarkFlagRequired("aligned")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

// request reads the files named by f.
func (f scoreFlags) request() (scorer.Request, error) {
	return loadRequest(f.expected, f.aligned, f.audio, f.hypothesis, f.debug)
}

func loadRequest(expected, alignedPath, audioPath, hypothesis string, debug bool) (scorer.Request, error) {
	aligned, err := os.ReadFile(alignedPath)
	if err != nil {
		return scorer.Request{}, fmt.Errorf("read aligned result: %w", err)
	}
	wave, err := audio.DecodeWAVFile(audioPath)
	if err != nil {
		return scorer.Request{}, fmt.Errorf("read audio %q: %w", audioPath, err)
	}
	return scorer.Request{
		ExpectedText: expected,
		Aligned:      aligned,
		Audio:        wave,
		Hypothesis:   hypothesis,
		Debug:        debug,
	}, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
