package serving

import (
	"context"
	"sync"

	"inferd/pkg/types"
)

type outcome struct {
	result types.GenerateResult
	err    error
}

// Handle is the completion handle returned by Submit. It resolves exactly
// once, with either a result or an error. A caller that abandons its handle
// has effectively cancelled the request: the buffered channel lets the worker
// resolve and move on, and the unread outcome is discarded.
type Handle struct {
	once sync.Once
	ch   chan outcome
}

func newHandle() *Handle {
	return &Handle{ch: make(chan outcome, 1)}
}

func (h *Handle) resolve(res types.GenerateResult, err error) {
	h.once.Do(func() {
		h.ch <- outcome{result: res, err: err}
	})
}

// Wait blocks until the request resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (types.GenerateResult, error) {
	select {
	case out := <-h.ch:
		return out.result, out.err
	case <-ctx.Done():
		return types.GenerateResult{}, ctx.Err()
	}
}

// Chunk is one element of a streaming response. The final chunk has Done set;
// Err, when non-nil, terminates the stream.
type Chunk struct {
	Token string
	Done  bool
	Usage types.Usage
	Err   error
}
