// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package pe

import (
	"context"
	"sync"
	"time"
)

// SetItem is one (resource, data) pair within a BatchSet call.
type SetItem struct {
	Resource string
	Data     []byte
	Channel  *int
}

// BatchOptions configures BatchSet (§4.6).
type BatchOptions struct {
	MaxConcurrency     int
	StopOnFirstFailure bool
	Timeout            time.Duration
	ValidatePayloads   bool
}

// BatchResult is one item's outcome within a BatchSet call.
type BatchResult struct {
	Response *Response
	Err      error
}

// Valid applies defaults and range-checks BatchOptions.
func (o *BatchOptions) Valid() error {
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = 1
	} else if o.MaxConcurrency < 1 {
		return errValidation("MaxConcurrency must be >= 1")
	}
	return nil
}

// BatchSet fans out multiple Sets to one device with a concurrency bound,
// aggregating per-resource outcomes (§4.6). If StopOnFirstFailure is set,
// the first failure cancels the batch context: items not yet started are
// skipped with errCancelled, and items still in flight are cancelled too.
func (e *Engine) BatchSet(ctx context.Context, dest DeviceHandle, items []SetItem, opts BatchOptions) map[string]BatchResult {
	out := make(map[string]BatchResult, len(items))
	if err := opts.Valid(); err != nil {
		for _, it := range items {
			out[it.Resource] = BatchResult{Err: err}
		}
		return out
	}
	if opts.ValidatePayloads {
		for _, it := range items {
			if it.Resource == "" {
				out[it.Resource] = BatchResult{Err: errValidation("resource must be non-empty")}
				return out
			}
			if len(it.Data) == 0 {
				out[it.Resource] = BatchResult{Err: errValidation("set requires a non-empty body")}
				return out
			}
		}
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		failed bool
		wg     sync.WaitGroup
		sem    = make(chan struct{}, opts.MaxConcurrency)
	)

	for _, it := range items {
		it := it
		mu.Lock()
		stop := opts.StopOnFirstFailure && failed
		mu.Unlock()
		if stop {
			mu.Lock()
			out[it.Resource] = BatchResult{Err: errCancelled()}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			resp, err := e.Set(batchCtx, dest, it.Resource, it.Data, RequestOptions{
				Channel: it.Channel, Timeout: opts.Timeout,
			})

			mu.Lock()
			out[it.Resource] = BatchResult{Response: resp, Err: err}
			if err != nil && opts.StopOnFirstFailure {
				failed = true
				cancel()
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return out
}
