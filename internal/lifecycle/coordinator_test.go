package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"inferd/internal/engine"
	"inferd/internal/pressure"
	"inferd/pkg/types"
)

// fakeHandle is an inert engine handle for coordinator tests.
type fakeHandle struct{ id string }

func (fakeHandle) Complete(ctx context.Context, prompt string, p types.GenerateParams) (engine.Completion, error) {
	return engine.Completion{Text: "ok"}, nil
}

func (fakeHandle) Stream(ctx context.Context, prompt string, p types.GenerateParams, onToken func(string) error) (engine.Completion, error) {
	return engine.Completion{Text: "ok"}, nil
}

type fakeLoader struct {
	mu        sync.Mutex
	loads     atomic.Int64
	unloads   atomic.Int64
	resident  uint64
	loadErr   error
	unloadErr error
}

func (f *fakeLoader) Load(ctx context.Context, mdl types.Model, p engine.LoadParams) (engine.Handle, error) {
	f.mu.Lock()
	err := f.loadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.loads.Add(1)
	return fakeHandle{id: mdl.ID}, nil
}

func (f *fakeLoader) Unload(h engine.Handle) error {
	f.mu.Lock()
	err := f.unloadErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.unloads.Add(1)
	return nil
}

func (f *fakeLoader) ResidentBytes(h engine.Handle) uint64 {
	if f.resident > 0 {
		return f.resident
	}
	return 1 << 20
}

func newCoordinator(t *testing.T, loader *fakeLoader, budget uint64, ids ...string) (*Coordinator, *pressure.Manager) {
	t.Helper()
	reg := make([]types.Model, 0, len(ids))
	for _, id := range ids {
		reg = append(reg, types.Model{ID: id, Name: id, Path: "/tmp/" + id + ".gguf"})
	}
	pm := pressure.NewWithBudget(budget, zerolog.Nop())
	c := New(reg, loader, pm, Config{AutoLoad: true}, zerolog.Nop())
	return c, pm
}

func TestGetOrLoadLoadsOnce(t *testing.T) {
	f := &fakeLoader{}
	c, _ := newCoordinator(t, f, 1<<30, "m1")
	ctx := context.Background()
	if _, err := c.GetOrLoad(ctx, "m1"); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if _, err := c.GetOrLoad(ctx, "m1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if n := f.loads.Load(); n != 1 {
		t.Fatalf("expected exactly one load, got %d", n)
	}
	st, ok := c.Info("m1")
	if !ok || st.State != string(StateLoaded) {
		t.Fatalf("expected loaded state, got %+v ok=%v", st, ok)
	}
}

func TestGetOrLoadUnknownModel(t *testing.T) {
	c, _ := newCoordinator(t, &fakeLoader{}, 1<<30)
	_, err := c.GetOrLoad(context.Background(), "ghost")
	if err == nil || !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestGetOrLoadAutoLoadDisabled(t *testing.T) {
	f := &fakeLoader{}
	pm := pressure.NewWithBudget(1<<30, zerolog.Nop())
	c := New([]types.Model{{ID: "m1", Path: "/tmp/m1.gguf"}}, f, pm, Config{AutoLoad: false}, zerolog.Nop())
	_, err := c.GetOrLoad(context.Background(), "m1")
	if err == nil || !IsNotLoaded(err) {
		t.Fatalf("expected not-loaded error, got %v", err)
	}
	// Explicit load still works with auto-load off.
	if err := c.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("explicit load: %v", err)
	}
	if _, err := c.GetOrLoad(context.Background(), "m1"); err != nil {
		t.Fatalf("get after explicit load: %v", err)
	}
}

func TestLoadFailureRollsBackToUnloaded(t *testing.T) {
	f := &fakeLoader{loadErr: errors.New("mmap failed")}
	c, _ := newCoordinator(t, f, 1<<30, "m1")
	_, err := c.GetOrLoad(context.Background(), "m1")
	if err == nil || !IsLoadFailure(err) {
		t.Fatalf("expected load failure, got %v", err)
	}
	st, _ := c.Info("m1")
	if st.State != string(StateUnloaded) {
		t.Fatalf("expected rollback to unloaded, got %s", st.State)
	}
	// A later attempt is allowed (no automatic retry, but no poisoning).
	f.mu.Lock()
	f.loadErr = nil
	f.mu.Unlock()
	if _, err := c.GetOrLoad(context.Background(), "m1"); err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
}

func TestUnloadOnlyFromLoaded(t *testing.T) {
	f := &fakeLoader{}
	c, pm := newCoordinator(t, f, 1<<30, "m1")
	if c.Unload("m1") {
		t.Fatalf("unload of a cold model must report false")
	}
	if _, err := c.GetOrLoad(context.Background(), "m1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Unload("m1") {
		t.Fatalf("expected unload to succeed")
	}
	if pm.TotalBytes() != 0 {
		t.Fatalf("expected memory unregistered after unload")
	}
	if c.Unload("m1") {
		t.Fatalf("double unload must report false")
	}
}

func TestUnloadRefusedWhileInflight(t *testing.T) {
	f := &fakeLoader{}
	c, _ := newCoordinator(t, f, 1<<30, "m1")
	_, release, err := c.BeginInference(context.Background(), "m1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if c.Unload("m1") {
		t.Fatalf("unload must be refused while inference is in flight")
	}
	release()
	if !c.Unload("m1") {
		t.Fatalf("unload must succeed after release")
	}
}

func TestUnloadFailureRollsBackToLoaded(t *testing.T) {
	f := &fakeLoader{unloadErr: errors.New("engine busy")}
	c, pm := newCoordinator(t, f, 1<<30, "m1")
	if _, err := c.GetOrLoad(context.Background(), "m1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Unload("m1") {
		t.Fatalf("expected unload to report failure")
	}
	st, _ := c.Info("m1")
	if st.State != string(StateLoaded) {
		t.Fatalf("expected rollback to loaded, got %s", st.State)
	}
	if pm.TotalBytes() == 0 {
		t.Fatalf("memory must stay registered after failed unload")
	}
}

func TestConcurrentGetOrLoadSameModelLoadsOnce(t *testing.T) {
	f := &fakeLoader{}
	c, _ := newCoordinator(t, f, 1<<30, "m1")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrLoad(context.Background(), "m1"); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := f.loads.Load(); n != 1 {
		t.Fatalf("expected exactly one load under contention, got %d", n)
	}
}

func TestApplyPressureReliefSkipsExcludedAndInflight(t *testing.T) {
	// Budget below any single model so the recommendation necessarily names
	// all three; only "c" is eligible for unloading.
	f := &fakeLoader{resident: 6 << 20}
	c, pm := newCoordinator(t, f, 5<<20, "a", "b", "c")
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := c.GetOrLoad(ctx, id); err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
	}
	_, release, err := c.BeginInference(ctx, "a")
	if err != nil {
		t.Fatalf("begin a: %v", err)
	}
	defer release()

	unloaded := c.ApplyPressureRelief("b")
	if len(unloaded) != 1 || unloaded[0] != "c" {
		t.Fatalf("expected only c unloaded, got %v", unloaded)
	}
	if st, _ := c.Info("a"); st.State != string(StateLoaded) {
		t.Fatalf("in-flight model must stay loaded, got %s", st.State)
	}
	if st, _ := c.Info("b"); st.State != string(StateLoaded) {
		t.Fatalf("excluded model must stay loaded, got %s", st.State)
	}
	if got := pm.TotalBytes(); got != 12<<20 {
		t.Fatalf("expected 12MB resident after relief, got %d", got)
	}
}

func TestCloseUnloadsEverything(t *testing.T) {
	f := &fakeLoader{}
	c, pm := newCoordinator(t, f, 1<<30, "a", "b")
	ctx := context.Background()
	c.GetOrLoad(ctx, "a")
	c.GetOrLoad(ctx, "b")
	c.Close()
	if pm.TotalBytes() != 0 {
		t.Fatalf("expected all memory released, got %d", pm.TotalBytes())
	}
	for _, st := range c.List() {
		if st.State != string(StateUnloaded) {
			t.Fatalf("expected %s unloaded, got %s", st.ID, st.State)
		}
	}
}

// parkedLoader blocks inside Load until released, simulating a slow cold
// model load.
type parkedLoader struct {
	fakeLoader
	once    sync.Once
	entered chan struct{}
	proceed chan struct{}
}

func newParkedLoader() *parkedLoader {
	return &parkedLoader{entered: make(chan struct{}), proceed: make(chan struct{})}
}

func (p *parkedLoader) Load(ctx context.Context, mdl types.Model, lp engine.LoadParams) (engine.Handle, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.proceed
	return p.fakeLoader.Load(ctx, mdl, lp)
}

func TestListObservesLoadingState(t *testing.T) {
	f := newParkedLoader()
	pm := pressure.NewWithBudget(1<<30, zerolog.Nop())
	c := New([]types.Model{{ID: "m1", Path: "/tmp/m1.gguf"}}, f, pm, Config{AutoLoad: true}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(context.Background(), "m1")
		done <- err
	}()
	<-f.entered

	// The engine call is parked; status reads must return promptly and
	// report the transition rather than blocking on it.
	st, ok := c.Info("m1")
	if !ok || st.State != string(StateLoading) {
		t.Fatalf("expected loading state during load, got %+v ok=%v", st, ok)
	}
	models := c.List()
	if len(models) != 1 || models[0].State != string(StateLoading) {
		t.Fatalf("expected List to report loading, got %+v", models)
	}
	if c.Unload("m1") {
		t.Fatalf("unload during a load in progress must report false")
	}

	close(f.proceed)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if st, _ := c.Info("m1"); st.State != string(StateLoaded) {
		t.Fatalf("expected loaded after release, got %s", st.State)
	}
}

func TestAcquireWaiterHonorsContext(t *testing.T) {
	f := newParkedLoader()
	pm := pressure.NewWithBudget(1<<30, zerolog.Nop())
	c := New([]types.Model{{ID: "m1", Path: "/tmp/m1.gguf"}}, f, pm, Config{AutoLoad: true}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(context.Background(), "m1")
		done <- err
	}()
	<-f.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetOrLoad(ctx, "m1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while waiting on the load, got %v", err)
	}

	close(f.proceed)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestMergeAddsOnlyUnknownModels(t *testing.T) {
	f := &fakeLoader{}
	c, _ := newCoordinator(t, f, 1<<30, "m1")
	if _, err := c.GetOrLoad(context.Background(), "m1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	added := c.Merge([]types.Model{
		{ID: "m2", Path: "/tmp/m2.gguf"},
		{ID: "m1", Path: "/tmp/elsewhere.gguf"},
		{ID: "m0", Path: "/tmp/m0.gguf"},
	})
	if len(added) != 2 || added[0] != "m0" || added[1] != "m2" {
		t.Fatalf("expected [m0 m2] added, got %v", added)
	}
	if st, _ := c.Info("m1"); st.State != string(StateLoaded) || st.Path != "/tmp/m1.gguf" {
		t.Fatalf("known model must be untouched by merge, got %+v", st)
	}
	if len(c.List()) != 3 {
		t.Fatalf("expected 3 models after merge, got %d", len(c.List()))
	}
}
