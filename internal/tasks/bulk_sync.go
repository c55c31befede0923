package tasks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// BulkSyncOpts configures [Engine.SyncAll].
type BulkSyncOpts struct {
	NumWorkers int     // Concurrent syncs (default: 4, max: 10)
	RateLimit  float64 // Sync starts per second (default: 2)
}

// UserSyncResult is the outcome of one user's sync within a bulk run.
type UserSyncResult struct {
	UserID      string
	TracksAdded int
	Error       error
}

// BulkSyncResult summarizes a bulk run.
type BulkSyncResult struct {
	TotalUsers  int
	Succeeded   int
	Failed      int
	TracksAdded int
	Results     []UserSyncResult
}

// SyncAll syncs userIDs with a bounded worker pool. When userIDs is empty
// every connected user is synced. Individual failures are collected in the
// result; only a failure to list users is returned as an error.
func (e *Engine) SyncAll(ctx context.Context, progress chan<- ProgressUpdate, userIDs []string, opts BulkSyncOpts) (*BulkSyncResult, error) {
	if len(userIDs) == 0 {
		recs, err := e.integrations.List(ctx, map[string]any{"provider": e.provider.Name(), "active": true})
		if err != nil {
			return nil, fmt.Errorf("failed to list integrations: %w", err)
		}
		for _, rec := range recs {
			userIDs = append(userIDs, rec.UserID())
		}
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}

	result := &BulkSyncResult{
		TotalUsers: len(userIDs),
		Results:    make([]UserSyncResult, 0, len(userIDs)),
	}
	if len(userIDs) == 0 {
		return result, nil
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan string, len(userIDs))
	results := make(chan UserSyncResult, len(userIDs))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go e.syncWorker(ctx, &wg, limiter, jobs, results)
	}

	for _, id := range userIDs {
		jobs <- id
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)
		if res.Error != nil {
			result.Failed++
		} else {
			result.Succeeded++
			result.TracksAdded += res.TracksAdded
		}
		sendProgress(progress, userSyncedUpdate(completed, len(userIDs), &res))
	}

	e.logger.Info("bulk sync finished", "users", result.TotalUsers, "failed", result.Failed, "added", result.TracksAdded)
	return result, nil
}

// syncWorker drains jobs until the channel closes. Jobs left after
// cancellation are reported with the context error.
func (e *Engine) syncWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	limiter *rate.Limiter,
	jobs <-chan string,
	results chan<- UserSyncResult,
) {
	defer wg.Done()

	for userID := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			results <- UserSyncResult{UserID: userID, Error: err}
			continue
		}

		res, err := e.Sync(ctx, userID, nil)
		out := UserSyncResult{UserID: userID, Error: err}
		if res != nil {
			out.TracksAdded = res.TracksAdded
		}
		results <- out
	}
}
