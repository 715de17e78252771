// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"context"
	"fmt"
	"sync"
)

// Progress is called after each batch completes with the number of texts
// embedded so far and the total. Calls are serialized.
type Progress func(done, total int)

// Batch embeds texts in fixed-size batches spread over workers goroutines.
// The result is aligned with texts. Every vector must have p.Dim()
// dimensions. The first error cancels the remaining batches.
func Batch(ctx context.Context, p Provider, texts []string, batchSize, workers int, progress Progress) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct{ start, end int }
	jobs := make(chan job)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				vecs, err := p.Embed(ctx, texts[j.start:j.end])
				if err != nil {
					fail(fmt.Errorf("embedding batch %d-%d: %w", j.start, j.end, err))
					continue
				}
				if len(vecs) != j.end-j.start {
					fail(fmt.Errorf("embedding batch %d-%d: got %d vectors", j.start, j.end, len(vecs)))
					continue
				}
				if err := checkDims(vecs, p.Dim()); err != nil {
					fail(fmt.Errorf("embedding batch %d-%d: %w", j.start, j.end, err))
					continue
				}
				copy(out[j.start:j.end], vecs)

				mu.Lock()
				done += len(vecs)
				if progress != nil {
					progress(done, len(texts))
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		select {
		case jobs <- job{start, end}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
