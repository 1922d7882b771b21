// Package watcher reports changes to a history source so the host can
// reload it and push a new snapshot into the engine.
//
// A source is either a snapshot file (JSON, JSONL, SQLite) or a git
// working tree. Files are watched through their parent directory, which
// survives atomic rename-on-save; git trees are watched through the ref
// files under .git that move on commit, checkout and fetch.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanderheijden86/histviz/pkg/debug"
)

// DefaultPollInterval is the stat interval when fsnotify is unavailable.
const DefaultPollInterval = 2 * time.Second

var (
	ErrSourceRemoved  = errors.New("watched source was removed")
	ErrPermission     = errors.New("permission denied")
	ErrAlreadyStarted = errors.New("watcher already started")
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDuration sets the quiet period before a change is reported.
func WithDebounceDuration(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDuration = d }
}

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithOnChange sets the callback invoked once per debounced change.
func WithOnChange(fn func()) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// WithOnError sets the callback invoked on watch errors.
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// WithForcePoll polls even where fsnotify works.
func WithForcePoll(force bool) WatcherOption {
	return func(w *Watcher) { w.forcePoll = force }
}

// target is what a source looks like on disk.
type target struct {
	// dirs are registered with fsnotify
	dirs []string
	// match reports whether an event path concerns the source
	match func(name string) bool
	// files are stat'ed when polling
	files []string
}

// gitRefFiles are the files under .git that move when history does.
var gitRefFiles = []string{"HEAD", "ORIG_HEAD", "FETCH_HEAD", "packed-refs"}

func targetFor(path string) target {
	gitDir := filepath.Join(path, ".git")
	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		heads := filepath.Join(gitDir, "refs", "heads")
		files := make([]string, 0, len(gitRefFiles)+1)
		for _, f := range gitRefFiles {
			files = append(files, filepath.Join(gitDir, f))
		}
		files = append(files, heads)
		return target{
			dirs:  []string{gitDir, heads},
			files: files,
			match: func(name string) bool {
				if strings.HasPrefix(name, heads+string(filepath.Separator)) {
					return !strings.HasSuffix(name, ".lock")
				}
				base := filepath.Base(name)
				for _, f := range gitRefFiles {
					if base == f && filepath.Dir(name) == gitDir {
						return true
					}
				}
				return false
			},
		}
	}
	base := filepath.Base(path)
	return target{
		dirs:  []string{filepath.Dir(path)},
		files: []string{path},
		match: func(name string) bool { return filepath.Base(name) == base },
	}
}

// fingerprint summarizes the polled files; it changes whenever any of
// them is written, created or removed.
type fingerprint struct {
	mtime  time.Time
	size   int64
	exists int
}

func (t target) fingerprint() (fingerprint, error) {
	var fp fingerprint
	for _, f := range t.files {
		info, err := os.Stat(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fp, err
		}
		fp.exists++
		fp.size += info.Size()
		if info.ModTime().After(fp.mtime) {
			fp.mtime = info.ModTime()
		}
	}
	return fp, nil
}

// Watcher monitors a history source using fsnotify with a polling
// fallback.
type Watcher struct {
	path             string
	target           target
	debounceDuration time.Duration
	pollInterval     time.Duration
	onChange         func()
	onError          func(error)
	forcePoll        bool
	forcePollEnv     bool
	fsType           FilesystemType

	fsWatcher   *fsnotify.Watcher
	debouncer   *Debouncer
	useFallback bool
	last        fingerprint

	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	mu       sync.RWMutex
	changeCh chan struct{}
}

// NewWatcher creates a watcher for the source at path.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:             absPath,
		debounceDuration: DefaultDebounceDuration,
		pollInterval:     DefaultPollInterval,
		onChange:         func() {},
		onError:          func(error) {},
		changeCh:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.debouncer = NewDebouncer(w.debounceDuration)
	return w, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	if _, err := os.Stat(w.path); err != nil && os.IsPermission(err) {
		return ErrPermission
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.target = targetFor(w.path)
	w.useFallback = false
	w.forcePollEnv = envBool("HV_FORCE_POLLING") || envBool("HV_FORCE_POLL")
	w.fsType = DetectFilesystemType(w.path)

	fp, err := w.target.fingerprint()
	if err != nil && os.IsPermission(err) {
		return ErrPermission
	}
	w.last = fp

	forcePoll := w.forcePoll || w.forcePollEnv || isRemoteFilesystem(w.fsType)
	if !forcePoll {
		if fsw, err := w.newFsnotify(); err == nil {
			w.fsWatcher = fsw
			go w.watchFsnotify(fsw)
		} else {
			debug.Log("watcher: fsnotify unavailable for %s: %v", w.path, err)
			forcePoll = true
		}
	}
	if forcePoll {
		w.useFallback = true
		go w.watchPolling()
	}

	w.started = true
	debug.Log("watcher: watching %s (fs=%s, polling=%v)", w.path, w.fsType, w.useFallback)
	return nil
}

func (w *Watcher) newFsnotify() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	added := 0
	for _, dir := range w.target.dirs {
		if err := fsw.Add(dir); err == nil {
			added++
		}
	}
	if added == 0 {
		fsw.Close()
		return nil, ErrSourceRemoved
	}
	return fsw, nil
}

// Stop stops watching. The Changed channel is left open so a goroutine
// blocked on it never sees a spurious change.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	w.debouncer.Cancel()
	w.started = false
}

// IsPolling reports whether the watcher fell back to polling.
func (w *Watcher) IsPolling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.useFallback
}

// IsStarted reports whether the watcher is running.
func (w *Watcher) IsStarted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.started
}

// Changed receives once per debounced change. Changes arriving while one
// is unread are merged.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changeCh
}

// Path returns the absolute watched path.
func (w *Watcher) Path() string {
	return w.path
}

// FilesystemType returns the classification made at Start.
func (w *Watcher) FilesystemType() FilesystemType {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.fsType
}

// PollInterval returns the polling interval.
func (w *Watcher) PollInterval() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pollInterval
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func (w *Watcher) watchFsnotify(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.target.match(event.Name) {
				continue
			}
			switch {
			case event.Op&fsnotify.Remove != 0 && event.Name == w.path:
				w.onError(ErrSourceRemoved)
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0:
				w.debouncer.Trigger(w.notifyChange)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) watchPolling() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			fp, err := w.target.fingerprint()
			if err != nil {
				if os.IsPermission(err) {
					err = ErrPermission
				}
				w.onError(err)
				continue
			}

			w.mu.Lock()
			prev := w.last
			w.last = fp
			w.mu.Unlock()

			switch {
			case fp.exists == 0 && prev.exists > 0:
				w.onError(ErrSourceRemoved)
			case fp != prev:
				w.debouncer.Trigger(w.notifyChange)
			}
		}
	}
}

func (w *Watcher) notifyChange() {
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()
	if !started {
		return
	}

	w.onChange()
	select {
	case w.changeCh <- struct{}{}:
	default:
	}
}
