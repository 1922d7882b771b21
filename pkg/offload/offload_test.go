package offload

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/testutil"
)

// degreeTask is a deterministic task for checking the plumbing itself.
type degreeTask struct{}

func (degreeTask) Name() string { return "degree" }

func (degreeTask) Run(ctx context.Context, in Input) (Result, error) {
	out := make(map[string]int, len(in.IDs))
	for _, id := range in.IDs {
		out[id] = 0
	}
	for _, e := range in.Edges {
		out[in.IDs[e[0]]]++
		out[in.IDs[e[1]]]++
	}
	return Result{Communities: out}, nil
}

type panicTask struct{}

func (panicTask) Name() string { return "panic" }

func (panicTask) Run(context.Context, Input) (Result, error) { panic("boom") }

type failTask struct{}

func (failTask) Name() string { return "fail" }

func (failTask) Run(context.Context, Input) (Result, error) { return Result{}, errors.New("bad input") }

// blockTask ignores its context and blocks until released.
type blockTask struct{ release chan struct{} }

func (blockTask) Name() string { return "block" }

func (b blockTask) Run(context.Context, Input) (Result, error) {
	<-b.release
	return Result{}, nil
}

type mutateTask struct{}

func (mutateTask) Name() string { return "mutate" }

func (mutateTask) Run(_ context.Context, in Input) (Result, error) {
	for i := range in.IDs {
		in.IDs[i] = "clobbered"
	}
	return Result{}, nil
}

func offloadConfig(threshold int) config.OffloadConfig {
	cfg := config.DefaultConfig().Offload
	cfg.Threshold = threshold
	cfg.Workers = 2
	cfg.Enabled = true
	return cfg
}

// cliques builds k disjoint cliques of size members each, joined in a ring
// by single bridges.
func cliques(k, size int) model.Snapshot {
	var snap model.Snapshot
	for c := 0; c < k; c++ {
		for i := 0; i < size; i++ {
			snap.Nodes = append(snap.Nodes, model.Node{ID: fmt.Sprintf("g%d-%02d", c, i)})
			for j := 0; j < i; j++ {
				snap.Edges = append(snap.Edges, model.Edge{
					Source: fmt.Sprintf("g%d-%02d", c, j), Target: fmt.Sprintf("g%d-%02d", c, i), Weight: 1,
				})
			}
		}
		snap.Edges = append(snap.Edges, model.Edge{
			Source: fmt.Sprintf("g%d-00", c), Target: fmt.Sprintf("g%d-00", (c+1)%k), Weight: 1,
		})
	}
	return snap
}

func TestSyncAndBackgroundAgree(t *testing.T) {
	snap := cliques(5, 10)
	in := InputFrom(snap.Nodes, snap.Edges, 7)
	ctx := context.Background()

	syncOff := New(offloadConfig(1000))
	defer syncOff.Close()
	bgOff := New(offloadConfig(10))
	defer bgOff.Close()

	for _, task := range []Task{degreeTask{}, Communities{Resolution: 1}} {
		sp := syncOff.Submit(ctx, task, in, 1)
		select {
		case <-sp.Done():
		default:
			t.Fatalf("%s: synchronous path returned an unresolved pending", task.Name())
		}
		syncRes, err := sp.Wait(ctx)
		if err != nil {
			t.Fatalf("%s sync: %v", task.Name(), err)
		}
		bgRes, err := bgOff.Submit(ctx, task, in, 1).Wait(ctx)
		if err != nil {
			t.Fatalf("%s background: %v", task.Name(), err)
		}
		if syncRes.Background || !bgRes.Background {
			t.Errorf("%s: background flags sync=%v bg=%v", task.Name(), syncRes.Background, bgRes.Background)
		}
		if !reflect.DeepEqual(syncRes.Communities, bgRes.Communities) {
			t.Errorf("%s: sync and background results differ", task.Name())
		}
	}
}

func TestCommunitiesSeparateCliques(t *testing.T) {
	snap := testutil.TwoCliques(6)
	res, err := Communities{Resolution: 1}.Run(context.Background(), InputFrom(snap.Nodes, snap.Edges, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Communities["a00"] != 0 || res.Communities["b00"] != 1 {
		t.Fatalf("unexpected numbering %v", res.Communities)
	}
	for id, c := range res.Communities {
		want := 0
		if strings.HasPrefix(id, "b") {
			want = 1
		}
		if c != want {
			t.Errorf("%s in community %d, want %d", id, c, want)
		}
	}
}

func TestEadesLayoutFiniteAndScaled(t *testing.T) {
	snap := testutil.NewDefault().Tree(40)
	task := DefaultEades()
	task.Updates = 50
	res, err := task.Run(context.Background(), InputFrom(snap.Nodes, snap.Edges, 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Positions) != 40 {
		t.Fatalf("got %d positions", len(res.Positions))
	}
	limit := task.Scale*6.3245553 + 1e-6 // sqrt(40)
	for id, p := range res.Positions {
		if !model.Finite(p) {
			t.Fatalf("%s non-finite: %v", id, p)
		}
		if d := math.Hypot(p.X, p.Y); d > limit {
			t.Errorf("%s at distance %.1f beyond %.1f", id, d, limit)
		}
	}
}

func TestPanicBecomesRejection(t *testing.T) {
	ctx := context.Background()
	for name, threshold := range map[string]int{"sync": 1000, "background": 0} {
		t.Run(name, func(t *testing.T) {
			o := New(offloadConfig(threshold))
			defer o.Close()
			_, err := o.Submit(ctx, panicTask{}, InputFrom([]model.Node{{ID: "x"}}, nil, 0), 4).Wait(ctx)
			var te *TaskError
			if !errors.As(err, &te) {
				t.Fatalf("got %v, want *TaskError", err)
			}
			if te.Task != "panic" || !strings.Contains(te.Error(), "boom") {
				t.Errorf("unexpected task error %v", te)
			}
		})
	}
}

func TestTaskErrorWrapsCause(t *testing.T) {
	o := New(offloadConfig(1000))
	defer o.Close()
	_, err := o.Submit(context.Background(), failTask{}, Input{}, 0).Result()
	var te *TaskError
	if !errors.As(err, &te) || te.Phase != "sync" || te.Unwrap().Error() != "bad input" {
		t.Errorf("got %v", err)
	}
}

func TestTimeoutRejects(t *testing.T) {
	cfg := offloadConfig(0)
	cfg.Timeout = 20 * time.Millisecond
	o := New(cfg)
	defer o.Close()

	release := make(chan struct{})
	defer close(release)
	_, err := o.Submit(context.Background(), blockTask{release}, InputFrom([]model.Node{{ID: "x"}}, nil, 0), 0).
		Wait(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	cfg := offloadConfig(0)
	cfg.Timeout = 0
	o := New(cfg)

	release := make(chan struct{})
	defer close(release)
	p := o.Submit(context.Background(), blockTask{release}, InputFrom([]model.Node{{ID: "x"}}, nil, 0), 9)
	o.Close()

	if _, err := p.Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("pending after close = %v, want ErrClosed", err)
	}
	if _, err := o.Submit(context.Background(), degreeTask{}, Input{}, 0).Result(); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close = %v, want ErrClosed", err)
	}
	if o.InFlight() != 0 {
		t.Errorf("%d tasks still in flight", o.InFlight())
	}
	o.Close()
}

func TestResultBeforeSettle(t *testing.T) {
	o := New(offloadConfig(0))
	defer o.Close()
	release := make(chan struct{})
	p := o.Submit(context.Background(), blockTask{release}, InputFrom([]model.Node{{ID: "x"}}, nil, 0), 2)
	if _, err := p.Result(); !errors.Is(err, ErrPending) {
		t.Errorf("Result before settle = %v", err)
	}
	close(release)
	res, err := p.Wait(context.Background())
	if err != nil || res.Generation != 2 || res.Task != "block" {
		t.Errorf("res=%+v err=%v", res, err)
	}
}

func TestInputIsCopied(t *testing.T) {
	o := New(offloadConfig(1000))
	defer o.Close()
	in := InputFrom([]model.Node{{ID: "a"}, {ID: "b"}}, nil, 0)
	o.Submit(context.Background(), mutateTask{}, in, 0)
	if in.IDs[0] != "a" {
		t.Error("task mutated the caller's input")
	}
}

func TestInputFromSkipsDangling(t *testing.T) {
	in := InputFrom(
		[]model.Node{{ID: "a"}, {ID: "b"}},
		[]model.Edge{{Source: "a", Target: "b"}, {Source: "a", Target: "ghost"}},
		0,
	)
	if len(in.Edges) != 1 || in.Weights[0] != 1 {
		t.Errorf("edges %v weights %v", in.Edges, in.Weights)
	}
}

func TestRunAll(t *testing.T) {
	o := New(offloadConfig(0))
	defer o.Close()
	snap := testutil.TwoCliques(4)
	in := InputFrom(snap.Nodes, snap.Edges, 1)

	results, err := RunAll(context.Background(), o, []Task{degreeTask{}, Communities{}}, in, 5)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.Task)
		if r.Generation != 5 {
			t.Errorf("%s generation %d", r.Task, r.Generation)
		}
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"communities", "degree"}) {
		t.Errorf("results for %v", names)
	}

	if _, err := RunAll(context.Background(), o, []Task{degreeTask{}, failTask{}}, in, 5); err == nil {
		t.Error("RunAll swallowed a task failure")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"": LogLevelWarn, "off": LogLevelNone, "ERROR": LogLevelError,
		"info": LogLevelInfo, "4": LogLevelDebug, "bogus": LogLevelWarn,
	}
	for raw, want := range tests {
		if got := ParseLogLevel(raw); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestDisabledRunsInline(t *testing.T) {
	cfg := offloadConfig(0)
	cfg.Enabled = false
	o := New(cfg)
	defer o.Close()

	var ran atomic.Bool
	if o.Background(1000) {
		t.Fatal("disabled offloader claims background support")
	}
	p := o.Submit(context.Background(), funcTask(func() { ran.Store(true) }), InputFrom([]model.Node{{ID: "x"}}, nil, 0), 0)
	if _, err := p.Result(); err != nil || !ran.Load() {
		t.Errorf("inline task did not complete: %v", err)
	}
}

type funcTask func()

func (funcTask) Name() string { return "func" }

func (f funcTask) Run(context.Context, Input) (Result, error) {
	f()
	return Result{}, nil
}
