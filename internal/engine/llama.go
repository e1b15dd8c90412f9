//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaLoader loads GGUF models in-process via go-llama.cpp.
type llamaLoader struct {
	defaults LoadParams
}

// NewLlamaLoader returns a Loader backed by go-llama.cpp. Zero fields in
// params fall back to library defaults.
func NewLlamaLoader(params LoadParams) Loader {
	return &llamaLoader{defaults: params}
}

type llamaHandle struct {
	model    *llama.LLama
	threads  int
	resident uint64
}

func (l *llamaLoader) Load(ctx context.Context, mdl types.Model, params LoadParams) (Handle, error) {
	if strings.TrimSpace(mdl.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params.CtxSize <= 0 {
		params.CtxSize = l.defaults.CtxSize
	}
	if params.Threads <= 0 {
		params.Threads = l.defaults.Threads
	}
	mo := []llama.ModelOption{}
	if params.CtxSize > 0 {
		mo = append(mo, llama.SetContext(params.CtxSize))
	}
	if params.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(params.GPULayers))
	}
	if params.UseMlock {
		mo = append(mo, llama.EnableMLock)
	}
	m, err := llama.New(mdl.Path, mo...)
	if err != nil {
		return nil, err
	}
	// go-llama.cpp does not report resident size; estimate from the file,
	// matching what the runtime maps into memory.
	return &llamaHandle{model: m, threads: params.Threads, resident: fsutil.FileSize(mdl.Path)}, nil
}

func (l *llamaLoader) Unload(h Handle) error {
	lh, ok := h.(*llamaHandle)
	if !ok || lh.model == nil {
		return nil
	}
	lh.model.Free()
	lh.model = nil
	return nil
}

func (l *llamaLoader) ResidentBytes(h Handle) uint64 {
	if lh, ok := h.(*llamaHandle); ok {
		return lh.resident
	}
	return 0
}

func (h *llamaHandle) Complete(ctx context.Context, prompt string, params types.GenerateParams) (Completion, error) {
	return h.Stream(ctx, prompt, params, nil)
}

func (h *llamaHandle) Stream(ctx context.Context, prompt string, params types.GenerateParams, onToken func(string) error) (Completion, error) {
	if h.model == nil {
		return Completion{}, errors.New("llama model not initialized")
	}
	h.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				return false
			}
		}
		return true
	})
	text, err := h.model.Predict(prompt, predictOptions(params, h.threads)...)
	if err != nil {
		if ctx.Err() != nil {
			return Completion{}, ctx.Err()
		}
		return Completion{}, err
	}
	return Completion{Text: text, FinishReason: "stop"}, nil
}

func predictOptions(params types.GenerateParams, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(maxInt(1, params.MaxTokens)),
		llama.SetThreads(maxInt(1, threads)),
		llama.SetTopP(posF32(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(posInt(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(posF32(params.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(posF32(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(int(params.Seed)))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func posInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func posF32(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}
