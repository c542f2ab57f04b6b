package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/batch"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/scorer"
	"github.com/MrWong99/speakwell/pkg/types"
)

// manifestEntry is one line of a batch manifest. Relative paths resolve
// against the manifest's directory.
type manifestEntry struct {
	Expected   string `json:"expected"`
	Aligned    string `json:"aligned"`
	Audio      string `json:"audio"`
	Hypothesis string `json:"hypothesis"`
	Debug      bool   `json:"debug"`
}

// batchLine is one line of batch output.
type batchLine struct {
	Index  int                  `json:"index"`
	Result *types.ScoringResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func newBatchCmd(g *globalFlags) *cobra.Command {
	var (
		manifest    string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Score every utterance of a JSON-lines manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel)
			slog.SetDefault(logger)

			if concurrency <= 0 {
				concurrency = cfg.Scoring.BatchConcurrency
			}
			reqs, err := readManifest(manifest)
			if err != nil {
				return err
			}
			sc, err := app.BuildScorer(cfg, config.NewRegistry(), observe.DefaultMetrics())
			if err != nil {
				return err
			}

			items, runErr := batch.Run(cmd.Context(), sc, reqs, concurrency)
			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for _, it := range items {
				line := batchLine{Index: it.Index, Result: it.Result}
				if it.Err != nil {
					line.Error = it.Err.Error()
					failed++
				}
				if err := enc.Encode(line); err != nil {
					return fmt.Errorf("write output: %w", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			if failed > 0 {
				slog.Warn("some utterances failed", "failed", failed, "total", len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "path to the JSON-lines manifest")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "utterances scored at once (default scoring.batch_concurrency)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

func readManifest(path string) ([]scorer.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	dir := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	var reqs []scorer.Request
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e manifestEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", n, err)
		}
		req, err := loadRequest(e.Expected, resolve(e.Aligned), resolve(e.Audio), e.Hypothesis, e.Debug)
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", n, err)
		}
		reqs = append(reqs, req)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return reqs, nil
}
