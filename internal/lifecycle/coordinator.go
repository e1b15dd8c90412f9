// Package lifecycle owns the set of loaded models. It serializes state
// transitions per model id, registers resident memory with the pressure
// manager, and refuses to unload models with inference in flight.
package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/pressure"
	"inferd/pkg/types"
)

// State is the lifecycle state of one model.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateUnloading State = "unloading"
)

// entry carries per-model state. Its mutex guards the fields only; it is
// never held across an engine call. While a transition runs, state is
// loading or unloading and transition is a channel closed on completion, so
// List and Info stay responsive during slow model loads.
type entry struct {
	mu         sync.Mutex
	model      types.Model
	state      State
	transition chan struct{}
	handle     engine.Handle
	resident   uint64
	inflight   int
}

// Config holds Coordinator tunables.
type Config struct {
	// AutoLoad controls whether GetOrLoad loads cold models on demand. When
	// false a cold model yields ErrNotLoaded.
	AutoLoad   bool
	LoadParams engine.LoadParams
}

// Coordinator maps registry models to live engine handles.
type Coordinator struct {
	loader   engine.Loader
	pressure *pressure.Manager
	cfg      Config
	log      zerolog.Logger

	// mu guards the entries map only, never a transition.
	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Coordinator over the given registry.
func New(reg []types.Model, loader engine.Loader, pm *pressure.Manager, cfg Config, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		loader:   loader,
		pressure: pm,
		cfg:      cfg,
		log:      log,
		entries:  make(map[string]*entry, len(reg)),
	}
	for _, mdl := range reg {
		c.entries[mdl.ID] = &entry{model: mdl, state: StateUnloaded}
	}
	return c
}

func (c *Coordinator) lookup(id string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return e, ok
}

// Merge registers models the coordinator does not know yet and returns their
// ids sorted. Known models are untouched, loaded or not; entries are never
// removed, so a model pulled from disk stays listed until restart.
func (c *Coordinator) Merge(models []types.Model) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []string
	for _, mdl := range models {
		if _, ok := c.entries[mdl.ID]; ok {
			continue
		}
		c.entries[mdl.ID] = &entry{model: mdl, state: StateUnloaded}
		added = append(added, mdl.ID)
	}
	sort.Strings(added)
	return added
}

// GetOrLoad returns a live handle for the model, loading it first when
// needed. Loaded models are touched in the pressure manager. Load failures
// surface as LoadFailure and roll the state back to unloaded.
func (c *Coordinator) GetOrLoad(ctx context.Context, id string) (engine.Handle, error) {
	h, release, err := c.acquire(ctx, id, false)
	if err != nil {
		return nil, err
	}
	release()
	return h, nil
}

// BeginInference is GetOrLoad plus an in-flight reservation. The returned
// release func must be called once the engine call finishes; until then the
// model cannot be unloaded.
func (c *Coordinator) BeginInference(ctx context.Context, id string) (engine.Handle, func(), error) {
	return c.acquire(ctx, id, true)
}

func (c *Coordinator) acquire(ctx context.Context, id string, reserve bool) (engine.Handle, func(), error) {
	e, ok := c.lookup(id)
	if !ok {
		return nil, nil, ErrModelNotFound(id)
	}

	e.mu.Lock()
	for {
		switch e.state {
		case StateLoaded:
			c.pressure.Touch(id)
			h := e.handle
			if !reserve {
				e.mu.Unlock()
				return h, func() {}, nil
			}
			e.inflight++
			e.mu.Unlock()
			released := false
			release := func() {
				e.mu.Lock()
				if !released {
					released = true
					e.inflight--
				}
				e.mu.Unlock()
			}
			return h, release, nil

		case StateUnloaded:
			if !c.cfg.AutoLoad {
				e.mu.Unlock()
				return nil, nil, ErrNotLoaded(id)
			}
			if err := c.loadLocked(ctx, e); err != nil {
				e.mu.Unlock()
				return nil, nil, err
			}
			// Loop back with the lock held; state is now loaded.

		default: // a load or unload is in progress elsewhere
			if err := c.awaitTransition(ctx, e); err != nil {
				return nil, nil, err
			}
		}
	}
}

// awaitTransition releases e.mu, waits for the in-progress transition to
// finish, and reacquires the lock. On context cancellation the lock is NOT
// reacquired.
func (c *Coordinator) awaitTransition(ctx context.Context, e *entry) error {
	done := e.transition
	e.mu.Unlock()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.mu.Lock()
	return nil
}

// Load explicitly loads a model regardless of the AutoLoad setting.
func (c *Coordinator) Load(ctx context.Context, id string) error {
	e, ok := c.lookup(id)
	if !ok {
		return ErrModelNotFound(id)
	}
	e.mu.Lock()
	for e.state == StateLoading || e.state == StateUnloading {
		if err := c.awaitTransition(ctx, e); err != nil {
			return err
		}
	}
	if e.state == StateLoaded {
		e.mu.Unlock()
		return nil
	}
	err := c.loadLocked(ctx, e)
	e.mu.Unlock()
	return err
}

// loadLocked runs the unloaded -> loading -> loaded transition. Called and
// returned with e.mu held, but the lock is dropped around the engine call so
// List, Info, and Unload observe the loading state instead of blocking for
// the duration of a cold load. Concurrent acquirers of the same id park in
// awaitTransition, which is what keeps the load single-flight.
func (c *Coordinator) loadLocked(ctx context.Context, e *entry) error {
	id := e.model.ID
	e.state = StateLoading
	e.transition = make(chan struct{})
	e.mu.Unlock()

	c.log.Info().Str("model", id).Msg("loading model")
	h, err := c.loader.Load(ctx, e.model, c.cfg.LoadParams)

	e.mu.Lock()
	close(e.transition)
	e.transition = nil
	if err != nil {
		e.state = StateUnloaded
		c.log.Error().Err(err).Str("model", id).Msg("model load failed")
		return LoadFailure(id, err)
	}
	e.handle = h
	e.resident = c.loader.ResidentBytes(h)
	e.state = StateLoaded
	c.pressure.Register(id, e.resident)
	loadsTotal.Inc()
	c.log.Info().Str("model", id).Str("resident", pressure.FormatBytes(e.resident)).Msg("model loaded")
	return nil
}

// Unload releases a loaded model. Returns false when the model is unknown,
// not loaded (a transition in progress counts as not loaded), or has
// inference in flight. An engine unload failure is logged and the state
// rolls back to loaded, never resting at unloading.
func (c *Coordinator) Unload(id string) bool {
	e, ok := c.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	if e.state != StateLoaded {
		e.mu.Unlock()
		return false
	}
	if e.inflight > 0 {
		c.log.Warn().Str("model", id).Int("inflight", e.inflight).Msg("unload refused: inference in flight")
		e.mu.Unlock()
		return false
	}
	e.state = StateUnloading
	e.transition = make(chan struct{})
	h := e.handle
	e.mu.Unlock()

	err := c.loader.Unload(h)

	e.mu.Lock()
	close(e.transition)
	e.transition = nil
	if err != nil {
		e.state = StateLoaded
		c.log.Error().Err(err).Str("model", id).Msg("model unload failed")
		e.mu.Unlock()
		return false
	}
	e.handle = nil
	e.resident = 0
	e.state = StateUnloaded
	e.mu.Unlock()
	c.pressure.Unregister(id)
	unloadsTotal.Inc()
	c.log.Info().Str("model", id).Msg("model unloaded")
	return true
}

// ApplyPressureRelief asks the pressure manager for an eviction
// recommendation and unloads every recommended model not excluded and not
// currently serving inference. Returns the ids actually unloaded.
func (c *Coordinator) ApplyPressureRelief(exclude ...string) []string {
	over, recommended := c.pressure.CheckPressure()
	if !over {
		return nil
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var unloaded []string
	for _, id := range recommended {
		if skip[id] {
			continue
		}
		if c.Unload(id) {
			unloaded = append(unloaded, id)
			c.log.Info().Str("model", id).Msg("unloaded under memory pressure")
		}
	}
	return unloaded
}

// List reports all registry models with their lifecycle state, sorted by id.
func (c *Coordinator) List() []types.ModelStatus {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	out := make([]types.ModelStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, types.ModelStatus{
			Model:         e.model,
			State:         string(e.state),
			ResidentBytes: e.resident,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Info returns the status of one model.
func (c *Coordinator) Info(id string) (types.ModelStatus, bool) {
	e, ok := c.lookup(id)
	if !ok {
		return types.ModelStatus{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.ModelStatus{
		Model:         e.model,
		State:         string(e.state),
		ResidentBytes: e.resident,
	}, true
}

// Close unloads every loaded model. Used at shutdown.
func (c *Coordinator) Close() {
	for _, st := range c.List() {
		if st.State == string(StateLoaded) {
			c.Unload(st.ID)
		}
	}
}
