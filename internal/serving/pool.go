// Package serving implements the admission queue and inference worker pool.
// A single dispatcher pulls pending requests in FIFO order and hands them to
// a fixed set of workers; admission beyond the queue capacity is rejected
// with ErrQueueFull rather than buffered without bound.
package serving

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/lifecycle"
	"inferd/internal/requestlog"
	"inferd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultQueueSize      = 256
	defaultWorkers        = 4
	streamChunkBuffer     = 32
	defaultEnqueueTimeout = 0 // fail fast
)

// Config holds pool tunables.
type Config struct {
	QueueSize int
	Workers   int
	// EnqueueTimeout bounds how long Submit may wait for a queue slot.
	// Zero rejects immediately when the queue is full.
	EnqueueTimeout time.Duration
	// DefaultModel is used when a request omits the model id.
	DefaultModel string
}

type pendingRequest struct {
	ctx    context.Context
	model  string
	prompt string
	params types.GenerateParams
	handle *Handle
	stream chan Chunk
}

// Pool is the serving core: admission queue, dispatcher, and workers.
type Pool struct {
	cfg   Config
	cache cache.Store
	coord *lifecycle.Coordinator
	rlog  requestlog.Writer
	log   zerolog.Logger

	queue      chan *pendingRequest
	workCh     chan *pendingRequest
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	// closeMu guards queue close against concurrent submits.
	closeMu sync.RWMutex
	closed  bool

	total     atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	active    atomic.Int64
}

// New constructs and starts the pool: one dispatcher plus cfg.Workers
// workers. rlog may be nil to disable request logging.
func New(cfg Config, store cache.Store, coord *lifecycle.Coordinator, rlog requestlog.Writer, log zerolog.Logger) *Pool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.EnqueueTimeout < 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if rlog == nil {
		rlog = requestlog.NoopWriter{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:        cfg,
		cache:      store,
		coord:      coord,
		rlog:       rlog,
		log:        log,
		queue:      make(chan *pendingRequest, cfg.QueueSize),
		workCh:     make(chan *pendingRequest),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	p.wg.Add(1)
	go p.dispatch()
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	queueCapacityGauge.Set(float64(cfg.QueueSize))
	return p
}

// Submit enqueues a non-streaming request and returns its completion handle.
// A full queue yields ErrQueueFull once the configured enqueue timeout (if
// any) elapses.
func (p *Pool) Submit(ctx context.Context, req types.GenerateRequest) (*Handle, error) {
	model, err := p.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	pr := &pendingRequest{
		ctx:    ctx,
		model:  model,
		prompt: req.Prompt,
		params: req.Params(),
		handle: newHandle(),
	}
	if err := p.enqueue(ctx, pr); err != nil {
		return nil, err
	}
	return pr.handle, nil
}

// SubmitStream enqueues a streaming request. Tokens are forwarded on the
// returned channel as the engine produces them; the final chunk has Done set.
// Streamed results are never cached. The caller must drain the channel or
// cancel ctx.
func (p *Pool) SubmitStream(ctx context.Context, req types.GenerateRequest) (<-chan Chunk, error) {
	model, err := p.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	pr := &pendingRequest{
		ctx:    ctx,
		model:  model,
		prompt: req.Prompt,
		params: req.Params(),
		stream: make(chan Chunk, streamChunkBuffer),
	}
	if err := p.enqueue(ctx, pr); err != nil {
		return nil, err
	}
	return pr.stream, nil
}

func (p *Pool) resolveModel(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if p.cfg.DefaultModel != "" {
		return p.cfg.DefaultModel, nil
	}
	return "", lifecycle.ErrModelNotFound("(unspecified)")
}

func (p *Pool) enqueue(ctx context.Context, pr *pendingRequest) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	// total counts admitted requests only; rejections land in rejected.
	select {
	case p.queue <- pr:
		p.total.Add(1)
		queueDepthGauge.Inc()
		return nil
	default:
	}
	if p.cfg.EnqueueTimeout <= 0 {
		p.rejected.Add(1)
		backpressureTotal.Inc()
		return ErrQueueFull
	}
	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case p.queue <- pr:
		p.total.Add(1)
		queueDepthGauge.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.rejected.Add(1)
		backpressureTotal.Inc()
		return ErrQueueFull
	}
}

// dispatch is the single queue consumer. The unbuffered handoff to workers
// preserves FIFO claim order.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	defer close(p.workCh)
	for pr := range p.queue {
		queueDepthGauge.Dec()
		p.workCh <- pr
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for pr := range p.workCh {
		p.run(pr)
	}
}

func (p *Pool) run(pr *pendingRequest) {
	p.active.Add(1)
	activeWorkersGauge.Inc()
	defer func() {
		// A panicking engine call resolves the request and returns the slot;
		// the pool itself never dies with a worker.
		if r := recover(); r != nil {
			err := InferenceFailure(fmt.Errorf("panic: %v", r))
			p.log.Error().Str("model", pr.model).Interface("panic", r).Msg("worker panic recovered")
			if pr.stream != nil {
				select {
				case pr.stream <- Chunk{Err: err, Done: true}:
				default:
				}
				close(pr.stream)
			} else {
				pr.handle.resolve(types.GenerateResult{}, err)
			}
		}
		p.active.Add(-1)
		activeWorkersGauge.Dec()
		p.completed.Add(1)
	}()

	// Cancelled while pending: best-effort, drop before claiming a model.
	if pr.ctx != nil && pr.ctx.Err() != nil {
		if pr.stream != nil {
			close(pr.stream)
		} else {
			pr.handle.resolve(types.GenerateResult{}, pr.ctx.Err())
		}
		return
	}

	if pr.stream != nil {
		p.runStream(pr)
		return
	}
	p.runBlocking(pr)
}

func (p *Pool) runBlocking(pr *pendingRequest) {
	key := cache.Fingerprint(pr.model, pr.prompt, pr.params)
	if res, ok := p.cache.Get(key); ok {
		p.writeRequestLog(pr, res, true, nil)
		pr.handle.resolve(res, nil)
		return
	}

	start := time.Now()
	h, release, err := p.coord.BeginInference(p.baseCtx, pr.model)
	if err != nil {
		p.writeRequestLog(pr, types.GenerateResult{}, false, err)
		pr.handle.resolve(types.GenerateResult{}, err)
		return
	}
	defer release()
	comp, err := h.Complete(p.baseCtx, pr.prompt, pr.params)
	if err != nil {
		err = InferenceFailure(err)
		p.writeRequestLog(pr, types.GenerateResult{}, false, err)
		pr.handle.resolve(types.GenerateResult{}, err)
		return
	}
	res := types.GenerateResult{
		Text:           comp.Text,
		FinishReason:   comp.FinishReason,
		Usage:          estimateUsage(pr.prompt, comp.Text),
		LatencySeconds: time.Since(start).Seconds(),
	}
	p.cache.Put(key, res)
	p.writeRequestLog(pr, res, false, nil)
	pr.handle.resolve(res, nil)
}

func (p *Pool) runStream(pr *pendingRequest) {
	defer close(pr.stream)

	h, release, err := p.coord.BeginInference(p.baseCtx, pr.model)
	if err != nil {
		pr.stream <- Chunk{Err: err, Done: true}
		return
	}
	defer release()

	comp, err := h.Stream(p.baseCtx, pr.prompt, pr.params, func(tok string) error {
		select {
		case pr.stream <- Chunk{Token: tok}:
			return nil
		case <-pr.ctx.Done():
			return pr.ctx.Err()
		case <-p.baseCtx.Done():
			return p.baseCtx.Err()
		}
	})
	if err != nil {
		if pr.ctx.Err() != nil {
			// Caller went away mid-stream; nothing left to deliver.
			return
		}
		pr.stream <- Chunk{Err: InferenceFailure(err), Done: true}
		return
	}
	select {
	case pr.stream <- Chunk{Done: true, Usage: estimateUsage(pr.prompt, comp.Text)}:
	case <-pr.ctx.Done():
	}
}

func (p *Pool) writeRequestLog(pr *pendingRequest, res types.GenerateResult, cached bool, reqErr error) {
	entry := requestlog.Entry{
		Model:            pr.model,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		TotalTokens:      res.Usage.TotalTokens,
		LatencySeconds:   res.LatencySeconds,
		Cached:           cached,
	}
	if reqErr != nil {
		entry.ErrorMessage = reqErr.Error()
	}
	if err := p.rlog.Write(p.baseCtx, entry); err != nil {
		p.log.Error().Err(err).Msg("request log write failed")
	}
}

// Stats reports queue and worker counters for the status surface.
func (p *Pool) Stats() types.ServingStats {
	return types.ServingStats{
		QueueDepth:        len(p.queue),
		QueueCapacity:     p.cfg.QueueSize,
		ActiveWorkers:     int(p.active.Load()),
		Workers:           p.cfg.Workers,
		TotalRequests:     p.total.Load(),
		CompletedRequests: p.completed.Load(),
		RejectedRequests:  p.rejected.Load(),
	}
}

// CacheStats passes through the response-cache counters.
func (p *Pool) CacheStats() types.CacheStats { return p.cache.Stats() }

// Close stops intake, drains queued work, and waits for workers to finish.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()

	p.wg.Wait()
	p.baseCancel()
}
