// Package batch scores many utterances with a bounded worker pool.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakwell/internal/scorer"
	"github.com/MrWong99/speakwell/pkg/types"
)

// Scorer is the part of [scorer.Scorer] used by [Run].
type Scorer interface {
	Score(ctx context.Context, req scorer.Request) (*types.ScoringResult, error)
}

// Item is the outcome for one request. Exactly one of Result and Err is set.
type Item struct {
	Index  int
	Result *types.ScoringResult
	Err    error
}

// Run scores reqs with at most limit concurrent calls and returns one [Item]
// per request, in request order. A failing request does not stop the others;
// Run itself only returns an error when ctx ends before every request was
// started.
func Run(ctx context.Context, s Scorer, reqs []scorer.Request, limit int) ([]Item, error) {
	if limit < 1 {
		limit = 1
	}
	items := make([]Item, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	started := 0
	for i, req := range reqs {
		if gctx.Err() != nil {
			break
		}
		started++
		g.Go(func() error {
			res, err := s.Score(gctx, req)
			items[i] = Item{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if started == len(reqs) {
		return items, nil
	}
	err := ctx.Err()
	for i := started; i < len(reqs); i++ {
		items[i] = Item{Index: i, Err: fmt.Errorf("batch: request %d not started: %w", i, err)}
	}
	return items, fmt.Errorf("batch: %w", err)
}
