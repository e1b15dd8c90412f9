package serving

import (
	"context"
	"fmt"
	"time"

	"inferd/internal/engine"
	"inferd/internal/lifecycle"
	"inferd/internal/pressure"
	"inferd/pkg/types"
)

// Service ties the pool, the lifecycle coordinator, and the pressure
// manager together behind the surface the HTTP layer serves.
type Service struct {
	pool   *Pool
	coord  *lifecycle.Coordinator
	pm     *pressure.Manager
	rescan func() ([]types.Model, error)
	start  time.Time
}

func NewService(pool *Pool, coord *lifecycle.Coordinator, pm *pressure.Manager) *Service {
	return &Service{pool: pool, coord: coord, pm: pm, start: time.Now()}
}

// SetRescan installs the registry scan used by ReloadModels. Without one,
// reload cycles the models already known to the coordinator.
func (s *Service) SetRescan(fn func() ([]types.Model, error)) { s.rescan = fn }

// Generate submits a blocking request and waits for its result.
func (s *Service) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResult, error) {
	h, err := s.pool.Submit(ctx, req)
	if err != nil {
		return types.GenerateResult{}, err
	}
	return h.Wait(ctx)
}

// GenerateStream submits a streaming request. The returned channel closes
// after the final chunk.
func (s *Service) GenerateStream(ctx context.Context, req types.GenerateRequest) (<-chan Chunk, error) {
	return s.pool.SubmitStream(ctx, req)
}

func (s *Service) Models() []types.ModelStatus { return s.coord.List() }

func (s *Service) ModelInfo(id string) (types.ModelStatus, bool) { return s.coord.Info(id) }

func (s *Service) LoadModel(ctx context.Context, id string) error { return s.coord.Load(ctx, id) }

// UnloadModel releases a model's resident memory. Unknown models and
// models with in-flight work are reported as errors.
func (s *Service) UnloadModel(id string) error {
	if _, ok := s.coord.Info(id); !ok {
		return lifecycle.ErrModelNotFound(id)
	}
	if !s.coord.Unload(id) {
		return fmt.Errorf("model %q is not loaded or has requests in flight", id)
	}
	return nil
}

// GenerateBatch runs the requests through the normal admission path and
// waits for all of them. Results are index-aligned with the requests; a
// failed item carries its error and a zero result, and one failure never
// aborts the rest of the batch.
func (s *Service) GenerateBatch(ctx context.Context, reqs []types.GenerateRequest) []types.BatchResult {
	handles := make([]*Handle, len(reqs))
	out := make([]types.BatchResult, len(reqs))
	for i, req := range reqs {
		h, err := s.pool.Submit(ctx, req)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		handles[i] = h
	}
	for i, h := range handles {
		if h == nil {
			continue
		}
		res, err := h.Wait(ctx)
		if err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].GenerateResult = res
	}
	return out
}

// ReloadModels unloads every idle model, rescans the models directory, and
// loads everything discovered. Models with inference in flight are skipped
// on the unload pass; per-model load failures are reported in the response,
// not fatal.
func (s *Service) ReloadModels(ctx context.Context) (types.ReloadResponse, error) {
	resp := types.ReloadResponse{
		Added:    []string{},
		Unloaded: []string{},
		Loaded:   []string{},
	}
	for _, st := range s.coord.List() {
		if st.State == string(lifecycle.StateLoaded) && s.coord.Unload(st.ID) {
			resp.Unloaded = append(resp.Unloaded, st.ID)
		}
	}
	if s.rescan != nil {
		models, err := s.rescan()
		if err != nil {
			return resp, fmt.Errorf("rescan models: %w", err)
		}
		if added := s.coord.Merge(models); added != nil {
			resp.Added = added
		}
	}
	list := s.coord.List()
	resp.Discovered = len(list)
	for _, st := range list {
		if err := s.coord.Load(ctx, st.ID); err != nil {
			if resp.Failed == nil {
				resp.Failed = make(map[string]string)
			}
			resp.Failed[st.ID] = err.Error()
			continue
		}
		resp.Loaded = append(resp.Loaded, st.ID)
	}
	return resp, nil
}

func (s *Service) MemoryStats() types.MemoryStats { return s.pm.Stats() }

// SetMemoryBudget overrides the eviction budget at runtime. The next
// pressure check applies it.
func (s *Service) SetMemoryBudget(budget uint64) { s.pm.SetBudget(budget) }

// MemoryPressure reports whether resident models exceed the budget and,
// if so, which ones eviction would pick.
func (s *Service) MemoryPressure() (bool, []string) { return s.pm.CheckPressure() }

// Cleanup evicts idle models until usage fits the budget and returns the
// ids that were unloaded.
func (s *Service) Cleanup() []string { return s.coord.ApplyPressureRelief() }

func (s *Service) DefaultModel() string { return s.pool.cfg.DefaultModel }

// Ready reports whether the default model is loaded, or true when no
// default is configured.
func (s *Service) Ready() bool {
	id := s.pool.cfg.DefaultModel
	if id == "" {
		return true
	}
	info, ok := s.coord.Info(id)
	return ok && info.State == string(lifecycle.StateLoaded)
}

func (s *Service) Status() types.StatusResponse {
	now := time.Now()
	state := "ready"
	if !s.Ready() {
		state = "loading"
	}
	return types.StatusResponse{
		State:          state,
		EngineBuilt:    engine.Built(),
		Serving:        s.pool.Stats(),
		Cache:          s.pool.CacheStats(),
		Memory:         s.pm.Stats(),
		Models:         s.coord.List(),
		UptimeSeconds:  int64(now.Sub(s.start).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}
