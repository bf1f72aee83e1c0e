package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-ingest/internal/media"
)

// DefaultWorkers is the number of construction goroutines per run.
const DefaultWorkers = 14

type chunkResult struct {
	index int
	items []media.Item
	err   error
}

// ConstructParallel splits entries into at most workers contiguous chunks of
// ceil(n/workers) entries and constructs each chunk sequentially on its own
// goroutine. Items are returned in entry order whatever the worker count.
//
// A failing or panicking chunk stops at that entry; the items built by every
// chunk are still returned together with the joined chunk errors.
func ConstructParallel(ctx context.Context, c *Constructor, userID string, entries []media.RawEntry, workers int) ([]media.Item, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	size := (len(entries) + workers - 1) / workers

	chunks := make([][]media.RawEntry, 0, workers)
	for start := 0; start < len(entries); start += size {
		chunks = append(chunks, entries[start:min(start+size, len(entries))])
	}
	log.Debug().Int("entries", len(entries)).Int("chunks", len(chunks)).Int("chunkSize", size).Msg("Constructing media in parallel")

	results := make(chan chunkResult, len(chunks))
	var wg sync.WaitGroup
	for i, part := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- constructChunk(ctx, c, userID, i, part)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	parts := make([]chunkResult, len(chunks))
	for res := range results {
		parts[res.index] = res
	}

	var items []media.Item
	var errs []error
	for _, res := range parts {
		items = append(items, res.items...)
		if res.err != nil {
			log.Error().Err(res.err).Int("chunk", res.index).Int("built", len(res.items)).Msg("Construction chunk failed")
			errs = append(errs, res.err)
		}
	}
	return items, errors.Join(errs...)
}

func constructChunk(ctx context.Context, c *Constructor, userID string, index int, entries []media.RawEntry) (res chunkResult) {
	res.index = index
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("chunk %d: panic: %v", index, r)
		}
	}()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			res.err = fmt.Errorf("chunk %d: %w", index, err)
			return res
		}
		built, err := c.Construct(ctx, userID, entry)
		if err != nil {
			res.err = fmt.Errorf("chunk %d: %w", index, err)
			return res
		}
		res.items = append(res.items, built...)
	}
	return res
}
