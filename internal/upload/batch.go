package upload

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/studylm/uploader/internal/models"
)

// BatchResult is the outcome of one item in a batch. Exactly one of Entry and Err is set.
type BatchResult struct {
	Item  string
	Entry *models.UploadEntry
	Err   error
}

// SubmitBatch submits items concurrently and returns one result per item, in order.
// A batch larger than Limits.MaxBatch is rejected as a whole before any request is sent.
func (t *Tracker) SubmitBatch(ctx context.Context, items []Item) []BatchResult {
	results := make([]BatchResult, len(items))
	for i, it := range items {
		results[i].Item = it.Label()
	}

	if max := t.opts.Limits.MaxBatch; len(items) > max {
		for i := range results {
			results[i].Err = newSubmissionError(results[i].Item, CodeBatchTooLarge,
				fmt.Sprintf("%d items submitted, at most %d allowed per batch", len(items), max))
		}
		return results
	}

	// Per-item failures are recorded in results, so the group never returns an error.
	var g errgroup.Group
	g.SetLimit(t.opts.Limits.MaxBatch)
	for i, it := range items {
		g.Go(func() error {
			entry, err := t.Submit(ctx, it)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Entry = &entry
			return nil
		})
	}
	g.Wait()

	return results
}

// Failed reports whether any result in the batch carries an error.
func Failed(results []BatchResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}
