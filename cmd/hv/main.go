// Command hv lays out and renders a software-history graph headlessly.
//
//	hv -source . -frames 400 -out history.png
//	hv -source history.jsonl -mode time-radial -out spiral.svg -watch
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/vanderheijden86/histviz/internal/datasource"
	"github.com/vanderheijden86/histviz/pkg/config"
	"github.com/vanderheijden86/histviz/pkg/debug"
	"github.com/vanderheijden86/histviz/pkg/engine"
	"github.com/vanderheijden86/histviz/pkg/model"
	"github.com/vanderheijden86/histviz/pkg/render"
	"github.com/vanderheijden86/histviz/pkg/version"
	"github.com/vanderheijden86/histviz/pkg/watcher"
)

// cliOptions holds parsed flags.
type cliOptions struct {
	source      string
	configPath  string
	mode        string
	frames      int
	out         string
	width       int
	height      int
	communities bool
	altLayout   bool
	watch       bool
	maxCommits  int
	include     string
	exclude     string
	edgeKinds   string
	timings     bool
}

func main() {
	var opts cliOptions
	flag.StringVar(&opts.source, "source", ".", "Snapshot file (.json, .jsonl, .db) or git repository")
	flag.StringVar(&opts.configPath, "config", "", "Config file (default ~/.config/histviz/config.yaml)")
	flag.StringVar(&opts.mode, "mode", "", "Layout mode: force or time-radial")
	flag.IntVar(&opts.frames, "frames", 300, "Maximum frames to simulate before writing output")
	flag.StringVar(&opts.out, "out", "", "Write the final frame to this .png or .svg file")
	flag.IntVar(&opts.width, "width", 0, "Surface width in pixels (default from config)")
	flag.IntVar(&opts.height, "height", 0, "Surface height in pixels (default from config)")
	flag.BoolVar(&opts.communities, "communities", false, "Detect communities before rendering")
	flag.BoolVar(&opts.altLayout, "alt-layout", false, "Seed positions from a background Eades layout")
	flag.BoolVar(&opts.watch, "watch", false, "Keep running and re-render when the source changes")
	flag.IntVar(&opts.maxCommits, "max-commits", 0, "Limit git history to the newest N commits")
	flag.StringVar(&opts.include, "include", "", "Comma-separated path globs to keep (git sources)")
	flag.StringVar(&opts.exclude, "exclude", "", "Comma-separated path globs to drop (git sources)")
	flag.StringVar(&opts.edgeKinds, "edges", "", "Comma-separated edge kinds to draw (default all)")
	flag.BoolVar(&opts.timings, "timings", false, "Print per-stage timings")
	cpuProfile := flag.String("cpu-profile", "", "Write CPU profile to file")
	versionFlag := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("hv %s\n", version.Version)
		os.Exit(0)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadConfig(opts cliOptions) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFrom(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}
	if opts.mode != "" {
		cfg.Layout.Mode = opts.mode
	}
	if opts.width > 0 {
		cfg.Viewport.Width = opts.width
	}
	if opts.height > 0 {
		cfg.Viewport.Height = opts.height
	}
	return cfg, cfg.Validate()
}

// newDevice picks the device for the output extension.
func newDevice(out string) (render.Device, error) {
	switch strings.ToLower(filepath.Ext(out)) {
	case "", ".png":
		return render.NewRasterDevice(), nil
	case ".svg":
		return render.NewSVGDevice(), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want .png or .svg)", filepath.Ext(out))
	}
}

// session is one CLI run: an engine plus the source it was loaded from.
type session struct {
	opts cliOptions
	cfg  config.Config
	dsrc datasource.Options
	eng  *engine.Engine
	last model.Snapshot
	w    io.Writer
}

func run(ctx context.Context, opts cliOptions, w io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	dev, err := newDevice(opts.out)
	if err != nil {
		return err
	}
	engOpts := []engine.Option{engine.WithViewport(cfg.Viewport.Width, cfg.Viewport.Height)}
	if kinds := splitList(opts.edgeKinds); len(kinds) > 0 {
		engOpts = append(engOpts, engine.WithEdgeKinds(kinds...))
	}
	eng, err := engine.New(dev, cfg, engOpts...)
	if err != nil {
		return err
	}
	defer eng.Close()

	s := &session{
		opts: opts,
		cfg:  cfg,
		eng:  eng,
		w:    w,
		dsrc: datasource.Options{
			MaxCommits: opts.maxCommits,
			Include:    splitList(opts.include),
			Exclude:    splitList(opts.exclude),
		},
	}
	if err := s.reload(ctx); err != nil {
		return err
	}
	if err := s.simulate(); err != nil {
		return err
	}
	if err := s.write(); err != nil {
		return err
	}
	printSummary(w, s.summary())
	if opts.timings {
		printTimings(w)
	}

	if !opts.watch {
		return nil
	}
	return s.watch(ctx)
}

// reload loads the source, pushes it into the engine and runs the
// requested background tasks.
func (s *session) reload(ctx context.Context) error {
	snap, err := datasource.Load(s.opts.source, s.dsrc)
	if err != nil {
		return fmt.Errorf("loading %s: %w", s.opts.source, err)
	}
	if len(s.last.Nodes) > 0 {
		d := datasource.Diff(s.last, snap)
		if d.Empty() {
			debug.Log("hv: reload produced no changes")
			return nil
		}
		fmt.Fprintln(s.w, d.Summary())
	}
	s.last = snap
	s.eng.SetSnapshot(snap)

	if s.opts.communities {
		if _, err := s.eng.DetectCommunities(ctx).Wait(ctx); err != nil {
			return fmt.Errorf("community detection: %w", err)
		}
	}
	if s.opts.altLayout {
		if _, err := s.eng.RunAlternativeLayout(ctx).Wait(ctx); err != nil {
			return fmt.Errorf("alternative layout: %w", err)
		}
	}
	return nil
}

// frameStep is the simulated time between headless frames.
const frameStep = time.Second / 60

// simulate runs frames on a synthetic clock until the layout converges or
// the frame budget runs out.
func (s *session) simulate() error {
	now := time.Now()
	for i := 0; i < s.opts.frames; i++ {
		if err := s.eng.Frame(now); err != nil {
			return err
		}
		now = now.Add(frameStep)
		if i > 0 && s.eng.Telemetry().Converged {
			break
		}
	}
	return nil
}

// write saves the current surface to -out.
func (s *session) write() error {
	if s.opts.out == "" {
		return nil
	}
	return s.eng.Capture(func(dev render.Device) error {
		switch d := dev.(type) {
		case *render.RasterDevice:
			return d.SavePNG(s.opts.out)
		case *render.SVGDevice:
			if err := os.MkdirAll(filepath.Dir(s.opts.out), 0o755); err != nil {
				return err
			}
			f, err := os.Create(s.opts.out)
			if err != nil {
				return err
			}
			if _, err := d.WriteTo(f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		default:
			return fmt.Errorf("device %T cannot be saved", dev)
		}
	})
}

// watch keeps the engine running live and rewrites the output whenever the
// source changes and the layout has settled again.
func (s *session) watch(ctx context.Context) error {
	wt, err := watcher.NewWatcher(s.opts.source,
		watcher.WithOnError(func(err error) { fmt.Fprintf(os.Stderr, "watch: %v\n", err) }),
	)
	if err != nil {
		return err
	}
	if err := wt.Start(); err != nil {
		return err
	}
	defer wt.Stop()

	loop := s.eng.Start(ctx, engine.NewTickerScheduler(s.cfg.Viewport.FPS))
	defer loop.Stop()
	fmt.Fprintf(s.w, "watching %s (polling=%v); Ctrl-C to stop\n", wt.Path(), wt.IsPolling())

	settle := time.NewTicker(250 * time.Millisecond)
	defer settle.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-loop.Done():
			return nil
		case <-wt.Changed():
			if err := s.reload(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "reload: %v\n", err)
				continue
			}
			dirty = true
		case <-settle.C:
			if !dirty || !s.eng.Telemetry().Converged {
				continue
			}
			dirty = false
			if err := s.write(); err != nil {
				fmt.Fprintf(os.Stderr, "write: %v\n", err)
				continue
			}
			printSummary(s.w, s.summary())
		}
	}
}
