package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesRapidTriggers(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 callback invocation, got %d", n)
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	var called atomic.Bool
	d.Trigger(func() { called.Store(true) })
	d.Cancel()
	time.Sleep(100 * time.Millisecond)
	if called.Load() {
		t.Error("callback ran after cancel")
	}
}

func TestDebouncer_DefaultDuration(t *testing.T) {
	if d := NewDebouncer(0); d.Duration() != DefaultDebounceDuration {
		t.Errorf("expected default duration %v, got %v", DefaultDebounceDuration, d.Duration())
	}
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// flag is a concurrency-safe "did it happen" latch.
type flag struct {
	mu  sync.Mutex
	set bool
	err error
}

func (f *flag) mark() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

func (f *flag) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flag) marked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

func (f *flag) lastErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption) *Watcher {
	t.Helper()
	w, err := NewWatcher(path, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DetectsFileChange(t *testing.T) {
	path := writeSource(t, "initial")
	var f flag
	startWatcher(t, path, WithDebounceDuration(50*time.Millisecond), WithOnChange(f.mark))

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("modified content"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if !f.marked() {
		t.Error("expected change to be detected")
	}
}

func TestWatcher_AtomicRenameDetected(t *testing.T) {
	path := writeSource(t, "initial")
	var f flag
	startWatcher(t, path, WithDebounceDuration(50*time.Millisecond), WithOnChange(f.mark))

	time.Sleep(100 * time.Millisecond)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte("replaced"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if !f.marked() {
		t.Error("rename-on-save not detected")
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	path := writeSource(t, "initial")
	var f flag
	startWatcher(t, path, WithDebounceDuration(30*time.Millisecond), WithOnChange(f.mark))

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if f.marked() {
		t.Error("change to a sibling file was reported")
	}
}

func TestWatcher_PollingFallback(t *testing.T) {
	path := writeSource(t, "initial")
	var f flag
	w := startWatcher(t, path,
		WithDebounceDuration(50*time.Millisecond),
		WithPollInterval(100*time.Millisecond),
		WithForcePoll(true),
		WithOnChange(f.mark),
	)
	if !w.IsPolling() {
		t.Error("expected polling mode")
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("modified via polling"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)
	if !f.marked() {
		t.Error("expected change to be detected via polling")
	}
}

func TestWatcher_ChangedChannel(t *testing.T) {
	path := writeSource(t, "initial")
	w := startWatcher(t, path,
		WithDebounceDuration(50*time.Millisecond),
		WithPollInterval(100*time.Millisecond),
		WithForcePoll(true),
	)

	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(path, []byte("new content"), 0o644)
	}()
	select {
	case <-w.Changed():
	case <-time.After(time.Second):
		t.Error("timeout waiting for change notification")
	}
}

func TestWatcher_GitRefMove(t *testing.T) {
	repo := t.TempDir()
	heads := filepath.Join(repo, ".git", "refs", "heads")
	if err := os.MkdirAll(heads, 0o755); err != nil {
		t.Fatal(err)
	}
	head := filepath.Join(repo, ".git", "HEAD")
	if err := os.WriteFile(head, []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, poll := range []bool{false, true} {
		var f flag
		w := startWatcher(t, repo,
			WithDebounceDuration(30*time.Millisecond),
			WithPollInterval(50*time.Millisecond),
			WithForcePoll(poll),
			WithOnChange(f.mark),
		)
		time.Sleep(80 * time.Millisecond)
		// index writes do not count as history
		if err := os.WriteFile(filepath.Join(repo, ".git", "index"), []byte("idx"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(150 * time.Millisecond)
		if f.marked() {
			t.Error("index write reported as a history change")
		}

		sha := []byte("0123456789abcdef0123456789abcdef01234567\n")
		if err := os.WriteFile(filepath.Join(heads, "main"), sha, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(300 * time.Millisecond)
		if !f.marked() {
			t.Errorf("branch move not detected (polling=%v)", poll)
		}
		w.Stop()
		os.Remove(filepath.Join(heads, "main"))
	}
}

func TestWatcher_EnvForcePolling(t *testing.T) {
	for _, name := range []string{"HV_FORCE_POLLING", "HV_FORCE_POLL"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "true")
			w := startWatcher(t, writeSource(t, "x"), WithPollInterval(25*time.Millisecond))
			if !w.IsPolling() {
				t.Fatalf("expected polling when %s is set", name)
			}
		})
	}
}

func TestWatcher_RemoteFilesystem_UsesPolling(t *testing.T) {
	orig := detectFilesystemTypeFunc
	detectFilesystemTypeFunc = func(string) FilesystemType { return FSTypeNFS }
	t.Cleanup(func() { detectFilesystemTypeFunc = orig })

	w := startWatcher(t, writeSource(t, "x"), WithPollInterval(25*time.Millisecond))
	if !w.IsPolling() {
		t.Fatal("expected polling on a remote filesystem")
	}
	if got := w.FilesystemType(); got != FSTypeNFS {
		t.Fatalf("filesystem type %v, want %v", got, FSTypeNFS)
	}
}

func TestWatcher_SourceRemoved(t *testing.T) {
	path := writeSource(t, "initial")
	var f flag
	startWatcher(t, path,
		WithPollInterval(100*time.Millisecond),
		WithForcePoll(true),
		WithOnError(f.fail),
	)

	time.Sleep(50 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := f.lastErr(); err != ErrSourceRemoved {
		t.Errorf("expected ErrSourceRemoved, got %v", err)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	w, err := NewWatcher(writeSource(t, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if w.IsStarted() {
		t.Error("started before Start")
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != ErrAlreadyStarted {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	w.Stop()
	if w.IsStarted() {
		t.Error("still started after Stop")
	}
	w.Stop()
}

func TestWatcher_PathAndInterval(t *testing.T) {
	path := writeSource(t, "x")
	w, err := NewWatcher(path, WithPollInterval(500*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	abs, _ := filepath.Abs(path)
	if w.Path() != abs {
		t.Errorf("path %s, want %s", w.Path(), abs)
	}
	if w.PollInterval() != 500*time.Millisecond {
		t.Errorf("poll interval %v", w.PollInterval())
	}
}

func TestFilesystemType_String(t *testing.T) {
	tests := []struct {
		fsType FilesystemType
		want   string
	}{
		{FSTypeUnknown, "unknown"},
		{FSTypeLocal, "local"},
		{FSTypeNFS, "nfs"},
		{FSTypeSMB, "smb"},
		{FSTypeSSHFS, "sshfs"},
		{FSTypeFUSE, "fuse"},
		{FilesystemType(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.fsType.String(); got != tc.want {
			t.Errorf("FilesystemType(%d).String() = %q, want %q", tc.fsType, got, tc.want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	tests := map[string]bool{
		"1": true, "true": true, "TRUE": true, "yes": true, "y": true, "on": true, " On ": true,
		"0": false, "false": false, "no": false, "": false, "invalid": false,
	}
	for value, want := range tests {
		t.Setenv("HV_TEST_ENV_BOOL", value)
		if got := envBool("HV_TEST_ENV_BOOL"); got != want {
			t.Errorf("envBool(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestDetectFilesystemType(t *testing.T) {
	if got := DetectFilesystemType(""); got != FSTypeUnknown {
		t.Errorf("DetectFilesystemType(\"\") = %v", got)
	}
	// resolves through the existing parent
	_ = DetectFilesystemType(filepath.Join(t.TempDir(), "missing", "file.json"))
}
