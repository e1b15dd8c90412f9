package serving

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/engine"
	"inferd/internal/lifecycle"
	"inferd/internal/pressure"
	"inferd/pkg/types"
)

// stubEngine is a controllable engine backend shared by loader and handles.
type stubEngine struct {
	mu     sync.Mutex
	calls  int
	order  []string
	block  chan struct{} // non-nil: Complete waits until closed
	err    error
	panics bool
	tokens []string
	text   string
}

type stubHandle struct{ e *stubEngine }

func (h stubHandle) Complete(ctx context.Context, prompt string, p types.GenerateParams) (engine.Completion, error) {
	h.e.mu.Lock()
	h.e.calls++
	h.e.order = append(h.e.order, prompt)
	block := h.e.block
	err := h.e.err
	panics := h.e.panics
	text := h.e.text
	h.e.mu.Unlock()
	if panics {
		panic("engine exploded")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return engine.Completion{}, ctx.Err()
		}
	}
	if err != nil {
		return engine.Completion{}, err
	}
	if text == "" {
		text = "echo: " + prompt
	}
	return engine.Completion{Text: text, FinishReason: "stop"}, nil
}

func (h stubHandle) Stream(ctx context.Context, prompt string, p types.GenerateParams, onToken func(string) error) (engine.Completion, error) {
	h.e.mu.Lock()
	tokens := h.e.tokens
	err := h.e.err
	h.e.mu.Unlock()
	if err != nil {
		return engine.Completion{}, err
	}
	var text string
	for _, tok := range tokens {
		if err := onToken(tok); err != nil {
			return engine.Completion{}, err
		}
		text += tok
	}
	return engine.Completion{Text: text, FinishReason: "stop"}, nil
}

func (e *stubEngine) Load(ctx context.Context, mdl types.Model, p engine.LoadParams) (engine.Handle, error) {
	return stubHandle{e: e}, nil
}

func (e *stubEngine) Unload(h engine.Handle) error { return nil }

func (e *stubEngine) ResidentBytes(h engine.Handle) uint64 { return 1 << 20 }

func newPool(t *testing.T, cfg Config, e *stubEngine) (*Pool, *cache.Memory) {
	t.Helper()
	store := cache.NewMemory(100, 300*time.Second)
	pm := pressure.NewWithBudget(1<<30, zerolog.Nop())
	reg := []types.Model{{ID: "m1", Path: "/tmp/m1.gguf"}, {ID: "m2", Path: "/tmp/m2.gguf"}}
	coord := lifecycle.New(reg, e, pm, lifecycle.Config{AutoLoad: true}, zerolog.Nop())
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "m1"
	}
	p := New(cfg, store, coord, nil, zerolog.Nop())
	t.Cleanup(p.Close)
	return p, store
}

func TestSubmitResolvesResult(t *testing.T) {
	e := &stubEngine{}
	p, _ := newPool(t, Config{}, e)

	h, err := p.Submit(context.Background(), types.GenerateRequest{Prompt: "hi there"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Text != "echo: hi there" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Usage.TotalTokens < 2 {
		t.Fatalf("expected token accounting, got %+v", res.Usage)
	}
}

func TestCacheHitSkipsEngine(t *testing.T) {
	e := &stubEngine{}
	p, _ := newPool(t, Config{}, e)
	ctx := context.Background()
	req := types.GenerateRequest{Prompt: "same prompt", MaxTokens: 16}

	h1, _ := p.Submit(ctx, req)
	if _, err := h1.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	h2, _ := p.Submit(ctx, req)
	res, err := h2.Wait(ctx)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	e.mu.Lock()
	calls := e.calls
	e.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single engine call, got %d", calls)
	}
	if res.Text != "echo: same prompt" {
		t.Fatalf("cache returned wrong value %q", res.Text)
	}
}

func TestDifferentParamsMissCache(t *testing.T) {
	e := &stubEngine{}
	p, _ := newPool(t, Config{}, e)
	ctx := context.Background()

	h1, _ := p.Submit(ctx, types.GenerateRequest{Prompt: "p", Temperature: 0.5})
	h1.Wait(ctx)
	h2, _ := p.Submit(ctx, types.GenerateRequest{Prompt: "p", Temperature: 0.9})
	h2.Wait(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls != 2 {
		t.Fatalf("expected two engine calls for differing params, got %d", e.calls)
	}
}

func TestQueueFullRejectsImmediately(t *testing.T) {
	block := make(chan struct{})
	e := &stubEngine{block: block}
	defer close(block)
	p, _ := newPool(t, Config{QueueSize: 2, Workers: 1}, e)
	ctx := context.Background()

	// One request executing, one held by the dispatcher, two in the queue.
	for i := 0; i < 4; i++ {
		if _, err := p.Submit(ctx, types.GenerateRequest{Prompt: string(rune('a' + i))}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		// Let the dispatcher drain before the next submit.
		time.Sleep(20 * time.Millisecond)
	}
	_, err := p.Submit(ctx, types.GenerateRequest{Prompt: "overflow"})
	if err == nil || !IsQueueFull(err) {
		t.Fatalf("expected queue-full rejection, got %v", err)
	}
	st := p.Stats()
	if st.RejectedRequests != 1 {
		t.Fatalf("expected 1 rejection counted, got %d", st.RejectedRequests)
	}
	// Rejected submissions never count as admitted traffic.
	if st.TotalRequests != 4 {
		t.Fatalf("expected 4 admitted requests, got %d", st.TotalRequests)
	}
}

func TestFIFOWithinModel(t *testing.T) {
	block := make(chan struct{})
	e := &stubEngine{block: block}
	p, _ := newPool(t, Config{QueueSize: 8, Workers: 1}, e)
	ctx := context.Background()

	prompts := []string{"first", "second", "third"}
	handles := make([]*Handle, 0, len(prompts))
	for _, pr := range prompts {
		h, err := p.Submit(ctx, types.GenerateRequest{Prompt: pr})
		if err != nil {
			t.Fatalf("submit %q: %v", pr, err)
		}
		handles = append(handles, h)
		time.Sleep(10 * time.Millisecond)
	}
	close(block)
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, want := range prompts {
		if e.order[i] != want {
			t.Fatalf("requests reordered: got %v", e.order)
		}
	}
}

func TestInferenceFailureResolvesHandle(t *testing.T) {
	e := &stubEngine{err: errors.New("boom")}
	p, _ := newPool(t, Config{}, e)
	ctx := context.Background()

	h, _ := p.Submit(ctx, types.GenerateRequest{Prompt: "p"})
	_, err := h.Wait(ctx)
	if err == nil || !IsInferenceFailure(err) {
		t.Fatalf("expected inference failure, got %v", err)
	}
	// The pool survives: a later request succeeds.
	e.mu.Lock()
	e.err = nil
	e.mu.Unlock()
	h2, _ := p.Submit(ctx, types.GenerateRequest{Prompt: "q"})
	if _, err := h2.Wait(ctx); err != nil {
		t.Fatalf("pool did not recover: %v", err)
	}
}

func TestWorkerPanicRecovered(t *testing.T) {
	e := &stubEngine{panics: true}
	p, _ := newPool(t, Config{Workers: 1}, e)
	ctx := context.Background()

	h, _ := p.Submit(ctx, types.GenerateRequest{Prompt: "p"})
	_, err := h.Wait(ctx)
	if err == nil || !IsInferenceFailure(err) {
		t.Fatalf("expected recovered panic as inference failure, got %v", err)
	}
	e.mu.Lock()
	e.panics = false
	e.mu.Unlock()
	h2, _ := p.Submit(ctx, types.GenerateRequest{Prompt: "q"})
	if _, err := h2.Wait(ctx); err != nil {
		t.Fatalf("worker slot not returned after panic: %v", err)
	}
}

func TestUnknownModelRejectedAtExecution(t *testing.T) {
	e := &stubEngine{}
	p, _ := newPool(t, Config{}, e)
	ctx := context.Background()

	h, err := p.Submit(ctx, types.GenerateRequest{Model: "ghost", Prompt: "p"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = h.Wait(ctx)
	if err == nil || !lifecycle.IsModelNotFound(err) {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestStreamDeliversTokensAndIsNotCached(t *testing.T) {
	e := &stubEngine{tokens: []string{"Hel", "lo"}}
	p, store := newPool(t, Config{}, e)
	ctx := context.Background()

	ch, err := p.SubmitStream(ctx, types.GenerateRequest{Prompt: "p", Stream: true})
	if err != nil {
		t.Fatalf("submit stream: %v", err)
	}
	var text string
	var sawDone bool
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		if chunk.Done {
			sawDone = true
			if chunk.Usage.TotalTokens < 2 {
				t.Fatalf("expected usage on final chunk, got %+v", chunk.Usage)
			}
			continue
		}
		text += chunk.Token
	}
	if !sawDone {
		t.Fatalf("missing completion sentinel")
	}
	if text != "Hello" {
		t.Fatalf("unexpected streamed text %q", text)
	}
	if st := store.Stats(); st.Size != 0 {
		t.Fatalf("streamed results must not be cached, size=%d", st.Size)
	}
}

func TestCancelledPendingRequestIsDropped(t *testing.T) {
	block := make(chan struct{})
	e := &stubEngine{block: block}
	p, _ := newPool(t, Config{QueueSize: 4, Workers: 1}, e)

	// Occupy the only worker.
	busy, _ := p.Submit(context.Background(), types.GenerateRequest{Prompt: "busy"})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := p.Submit(ctx, types.GenerateRequest{Prompt: "pending"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()
	close(block)

	if _, err := h.Wait(context.Background()); err == nil {
		t.Fatalf("expected cancelled pending request to resolve with error")
	}
	if _, err := busy.Wait(context.Background()); err != nil {
		t.Fatalf("busy request should finish: %v", err)
	}
	// The cancelled request never reached the engine.
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pr := range e.order {
		if pr == "pending" {
			t.Fatalf("cancelled request was executed")
		}
	}
}

func TestSubmitAfterClose(t *testing.T) {
	e := &stubEngine{}
	p, _ := newPool(t, Config{}, e)
	p.Close()
	if _, err := p.Submit(context.Background(), types.GenerateRequest{Prompt: "p"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestStatsReflectQueueConfig(t *testing.T) {
	e := &stubEngine{}
	p, _ := newPool(t, Config{QueueSize: 7, Workers: 2}, e)
	st := p.Stats()
	if st.QueueCapacity != 7 || st.Workers != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
