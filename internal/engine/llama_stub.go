//go:build !llama

package engine

// This file provides a no-CGO stub for the llama loader. It compiles when the
// 'llama' build tag is NOT set, keeping default builds and CI CGO-free. The
// real loader lives in llama.go (tagged 'llama').

import (
	"context"
	"errors"

	"inferd/pkg/types"
)

var llamaBuilt = false

type llamaLoader struct{}

// NewLlamaLoader returns a Loader that refuses to load models without the
// 'llama' build tag. This avoids mocked inference in production binaries
// built without CGO support.
func NewLlamaLoader(params LoadParams) Loader {
	return llamaLoader{}
}

// ErrNotBuilt is returned for every load attempt in stub builds.
var ErrNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

func (llamaLoader) Load(ctx context.Context, mdl types.Model, params LoadParams) (Handle, error) {
	return nil, ErrNotBuilt
}

func (llamaLoader) Unload(h Handle) error { return nil }

func (llamaLoader) ResidentBytes(h Handle) uint64 { return 0 }
