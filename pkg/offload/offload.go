// Package offload runs expensive graph algorithms away from the frame loop.
//
// Inputs above a size threshold are sent to worker goroutines; smaller
// inputs, or every input when background work is disabled, run inline and
// come back already resolved. Either way the caller gets a Pending that
// always settles: with a result, a *TaskError, a timeout, or ErrClosed.
package offload

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/metrics"
	"github.com/vanderheijden86/histviz/pkg/model"
)

var (
	// ErrClosed rejects work submitted to, or still pending on, a closed
	// offloader.
	ErrClosed = errors.New("offload: closed")
	// ErrPending is returned by Pending.Result before the task settles.
	ErrPending = errors.New("offload: result pending")
)

// Input is a self-contained copy of the graph a task works on. Edges index
// into IDs.
type Input struct {
	IDs       []string
	Edges     [][2]int
	Weights   []float64
	Positions []r2.Vec
	Seed      uint64
}

// InputFrom copies nodes and edges into an Input. Edges with a missing
// endpoint are skipped.
func InputFrom(nodes []model.Node, edges []model.Edge, seed uint64) Input {
	in := Input{
		IDs:       make([]string, len(nodes)),
		Positions: make([]r2.Vec, len(nodes)),
		Seed:      seed,
	}
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		in.IDs[i] = n.ID
		in.Positions[i] = n.Pos
		index[n.ID] = i
	}
	for _, e := range edges {
		s, okS := index[e.Source]
		t, okT := index[e.Target]
		if !okS || !okT {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		in.Edges = append(in.Edges, [2]int{s, t})
		in.Weights = append(in.Weights, w)
	}
	return in
}

// Clone returns a deep copy.
func (in Input) Clone() Input {
	return Input{
		IDs:       append([]string(nil), in.IDs...),
		Edges:     append([][2]int(nil), in.Edges...),
		Weights:   append([]float64(nil), in.Weights...),
		Positions: append([]r2.Vec(nil), in.Positions...),
		Seed:      in.Seed,
	}
}

// Result is a settled task outcome. Only the field matching the task is
// set.
type Result struct {
	Task        string
	Generation  uint64
	Background  bool
	Elapsed     time.Duration
	Communities map[string]int
	Positions   map[string]r2.Vec
}

// Task is a pure computation over an Input.
type Task interface {
	Name() string
	Run(ctx context.Context, in Input) (Result, error)
}

// TaskError wraps a task failure with where it happened.
type TaskError struct {
	Task  string
	Phase string // "sync" or "background"
	Cause error
	Time  time.Time
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s (%s) failed: %v", e.Task, e.Phase, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// Pending is the handle to a submitted task.
type Pending struct {
	task       string
	generation uint64
	done       chan struct{}
	once       sync.Once
	res        Result
	err        error
}

func newPending(task string, generation uint64) *Pending {
	return &Pending{task: task, generation: generation, done: make(chan struct{})}
}

// resolve settles p. Only the first call has an effect.
func (p *Pending) resolve(res Result, err error) bool {
	settled := false
	p.once.Do(func() {
		res.Task = p.task
		res.Generation = p.generation
		p.res, p.err = res, err
		close(p.done)
		settled = true
	})
	return settled
}

// Task returns the task name.
func (p *Pending) Task() string { return p.task }

// Generation returns the generation the task was submitted under.
func (p *Pending) Generation() uint64 { return p.generation }

// Done is closed once the task settles.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the outcome, or ErrPending if the task has not settled.
func (p *Pending) Result() (Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	default:
		return Result{}, ErrPending
	}
}

// Wait blocks until the task settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type job struct {
	ctx  context.Context
	task Task
	in   Input
	p    *Pending
}

// Offloader owns the worker goroutines.
type Offloader struct {
	cfg      config.OffloadConfig
	jobs     chan job
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logLevel LogLevel

	mu       sync.Mutex
	closed   bool
	inflight map[*Pending]struct{}
}

// New starts cfg.Workers workers when background work is enabled.
func New(cfg config.OffloadConfig) *Offloader {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Offloader{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[*Pending]struct{}),
		logLevel: logLevelFromEnv(),
	}
	if cfg.Enabled && cfg.Workers > 0 {
		o.jobs = make(chan job, cfg.Workers)
		for i := 0; i < cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker(i)
		}
	}
	return o
}

// Background reports whether an input of n nodes would leave the caller's
// goroutine.
func (o *Offloader) Background(n int) bool {
	return o.jobs != nil && n > o.cfg.Threshold
}

// Submit runs task over a copy of in. generation is echoed on the result so
// callers can discard stale outcomes.
func (o *Offloader) Submit(ctx context.Context, task Task, in Input, generation uint64) *Pending {
	p := newPending(task.Name(), generation)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		p.resolve(Result{}, ErrClosed)
		return p
	}
	if !o.Background(len(in.IDs)) {
		o.mu.Unlock()
		return o.runInline(ctx, p, task, in)
	}
	o.inflight[p] = struct{}{}
	o.mu.Unlock()

	j := job{ctx: ctx, task: task, in: in.Clone(), p: p}
	o.logEvent(LogLevelDebug, "submit", map[string]any{
		"task": task.Name(), "nodes": len(in.IDs), "generation": generation,
	})
	go func() {
		select {
		case o.jobs <- j:
		case <-o.ctx.Done():
			o.settle(p, Result{}, ErrClosed)
		case <-ctx.Done():
			o.settle(p, Result{}, ctx.Err())
		}
	}()
	return p
}

// RunInline runs task on the caller's goroutine regardless of size. The
// returned Pending is already settled.
func (o *Offloader) RunInline(ctx context.Context, task Task, in Input, generation uint64) *Pending {
	p := newPending(task.Name(), generation)
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		p.resolve(Result{}, ErrClosed)
		return p
	}
	return o.runInline(ctx, p, task, in)
}

func (o *Offloader) runInline(ctx context.Context, p *Pending, task Task, in Input) *Pending {
	res, err := o.run(ctx, task, in.Clone(), "sync")
	p.resolve(res, err)
	return p
}

// Close stops the workers. Pending background tasks reject with ErrClosed
// and results that arrive later are discarded.
func (o *Offloader) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	pending := make([]*Pending, 0, len(o.inflight))
	for p := range o.inflight {
		pending = append(pending, p)
	}
	o.inflight = make(map[*Pending]struct{})
	o.mu.Unlock()

	o.cancel()
	for _, p := range pending {
		p.resolve(Result{}, ErrClosed)
	}
	o.wg.Wait()
	o.logEvent(LogLevelInfo, "closed", map[string]any{"rejected": len(pending)})
}

// InFlight returns the number of unsettled background tasks.
func (o *Offloader) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

func (o *Offloader) settle(p *Pending, res Result, err error) {
	o.mu.Lock()
	delete(o.inflight, p)
	o.mu.Unlock()
	if !p.resolve(res, err) {
		o.logEvent(LogLevelDebug, "discarded", map[string]any{"task": p.task, "generation": p.generation})
	}
}

func (o *Offloader) worker(id int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.jobs:
			o.process(id, j)
		}
	}
}

// process runs one job under the configured timeout. The task runs on its
// own goroutine so a task that ignores its context still cannot hold the
// Pending open past the deadline.
func (o *Offloader) process(worker int, j job) {
	ctx, cancel := o.jobContext(j.ctx)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := o.run(ctx, j.task, j.in, "background")
		out <- outcome{res, err}
	}()

	select {
	case r := <-out:
		r.res.Background = true
		o.settle(j.p, r.res, r.err)
	case <-ctx.Done():
		err := ctx.Err()
		if o.ctx.Err() != nil {
			err = ErrClosed
		}
		o.logEvent(LogLevelWarn, "abandoned", map[string]any{
			"task": j.task.Name(), "worker": worker, "error": err.Error(),
		})
		o.settle(j.p, Result{}, err)
	}
}

// jobContext derives the task context: the caller's context, cancelled on
// Close, bounded by the configured timeout.
func (o *Offloader) jobContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(o.ctx, cancel)
	if o.cfg.Timeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, o.cfg.Timeout)
		return tctx, func() { tcancel(); stop(); cancel() }
	}
	return ctx, func() { stop(); cancel() }
}

// run executes task and converts failures and panics into *TaskError.
func (o *Offloader) run(ctx context.Context, task Task, in Input, phase string) (res Result, err error) {
	start := time.Now()
	defer metrics.Timer(metrics.Offload)()
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{
				Task:  task.Name(),
				Phase: phase,
				Cause: fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
				Time:  time.Now(),
			}
		}
		if err != nil {
			o.logEvent(LogLevelError, "task_failed", map[string]any{
				"task": task.Name(), "phase": phase, "error": firstLine(err.Error()),
			})
			return
		}
		res.Elapsed = time.Since(start)
		o.logEvent(LogLevelInfo, "task_done", map[string]any{
			"task": task.Name(), "phase": phase, "nodes": len(in.IDs),
			"elapsed_ms": float64(res.Elapsed.Microseconds()) / 1000.0,
		})
	}()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res, err = task.Run(ctx, in)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		var te *TaskError
		if !errors.As(err, &te) {
			err = &TaskError{Task: task.Name(), Phase: phase, Cause: err, Time: time.Now()}
		}
	}
	return res, err
}

// RunAll submits every task over the same input and waits for all of them.
// The first failure cancels the rest.
func RunAll(ctx context.Context, o *Offloader, tasks []Task, in Input, generation uint64) ([]Result, error) {
	results := make([]Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			res, err := o.Submit(gctx, task, in, generation).Wait(gctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
