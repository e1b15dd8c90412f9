// Package engine defines the external inference-engine collaborators consumed
// by the serving core: a Loader that maps models on disk to live handles, and
// a Handle that runs blocking or streaming generation. Concrete backends live
// behind build tags so default builds stay CGO-free.
package engine

import (
	"context"

	"inferd/pkg/types"
)

// Built reports whether this binary carries the real llama backend.
func Built() bool { return llamaBuilt }

// LoadParams captures backend options applied when a model is loaded.
type LoadParams struct {
	CtxSize   int
	Threads   int
	Batch     int
	GPULayers int
	UseMmap   bool
	UseMlock  bool
}

// Completion is the terminal output of one engine call.
type Completion struct {
	Text         string
	FinishReason string
}

// Handle is a live model context. Complete blocks until generation finishes;
// Stream invokes onToken for every produced token and returns the aggregate.
// Implementations must return promptly once the context is canceled, though
// cancellation of an in-progress native call is best-effort.
type Handle interface {
	Complete(ctx context.Context, prompt string, params types.GenerateParams) (Completion, error)
	Stream(ctx context.Context, prompt string, params types.GenerateParams, onToken func(token string) error) (Completion, error)
}

// Loader owns the native runtime. Load may be slow (cold model file reads);
// Unload releases engine resources; ResidentBytes reports how much memory the
// handle keeps resident, used for pressure accounting.
type Loader interface {
	Load(ctx context.Context, mdl types.Model, params LoadParams) (Handle, error)
	Unload(h Handle) error
	ResidentBytes(h Handle) uint64
}
