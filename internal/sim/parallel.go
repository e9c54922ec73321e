package sim

import "sync"

// forRanges splits [0,n) into at most workers contiguous chunks and runs fn
// on each chunk concurrently, waiting for all of them before returning. Every
// chunk writes disjoint cells, so no locking is needed inside fn; the
// WaitGroup is the barrier between pipeline steps.
func forRanges(n, workers int, fn func(worker, start, end int)) {
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, 0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			fn(w, start, end)
		}(w, start, end)
	}
	wg.Wait()
}
