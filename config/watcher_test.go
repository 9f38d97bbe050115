package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, body string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestNewFileWatcher_Options(t *testing.T) {
	w, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "providers.yaml")})
	require.NoError(t, err)
	assert.Equal(t, time.Second, w.interval)
	assert.Equal(t, 100*time.Millisecond, w.debounce)
	assert.False(t, w.IsRunning())

	w, err = NewFileWatcher([]string{"a.yaml"},
		WithPollInterval(20*time.Millisecond),
		WithPollInterval(-1),
		WithDebounceDelay(0),
		WithWatcherLogger(nil),
		WithWatcherLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, w.interval)
	assert.Zero(t, w.debounce)
	assert.NotNil(t, w.logger)
	assert.Equal(t, []string{"a.yaml"}, w.Paths())
}

func TestFileOp_String(t *testing.T) {
	for op, want := range map[FileOp]string{
		FileOpCreate: "CREATE",
		FileOpWrite:  "WRITE",
		FileOpRemove: "REMOVE",
		FileOp(9):    "UNKNOWN",
	} {
		assert.Equal(t, want, op.String())
	}
}

func TestFileWatcher_ScanDetectsTransitions(t *testing.T) {
	f := filepath.Join(t.TempDir(), "providers.yaml")
	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	steps := []struct {
		name   string
		mutate func()
		want   []FileOp
	}{
		{"missing stays quiet", func() {}, nil},
		{"created", func() { writeFile(t, f, "v1", base) }, []FileOp{FileOpCreate}},
		{"unchanged", func() {}, nil},
		{"same mtime but new size", func() { writeFile(t, f, "v1-longer", base) }, []FileOp{FileOpWrite}},
		{"newer mtime", func() { writeFile(t, f, "v1-longer", base.Add(time.Minute)) }, []FileOp{FileOpWrite}},
		{"removed", func() { require.NoError(t, os.Remove(f)) }, []FileOp{FileOpRemove}},
	}
	for _, step := range steps {
		step.mutate()
		n := w.scan(time.Now())
		var ops []FileOp
		for _, evt := range w.pending {
			ops = append(ops, evt.Op)
		}
		w.pending = make(map[string]FileEvent)
		assert.Equal(t, len(step.want), n, step.name)
		assert.Equal(t, step.want, ops, step.name)
	}
}

func TestFileWatcher_FlushCoalescesPerPath(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	w, err := NewFileWatcher([]string{a, b})
	require.NoError(t, err)

	var got []FileEvent
	w.OnChange(func(evt FileEvent) { got = append(got, evt) })

	base := time.Now().Add(-time.Hour)
	writeFile(t, a, "1", base)
	w.scan(time.Now())
	writeFile(t, a, "22", base)
	w.scan(time.Now())
	writeFile(t, b, "1", base)
	w.scan(time.Now())

	w.flush()
	require.Len(t, got, 2)
	ops := map[string]FileOp{}
	for _, evt := range got {
		ops[evt.Path] = evt.Op
	}
	assert.Equal(t, FileOpWrite, ops[a])
	assert.Equal(t, FileOpCreate, ops[b])

	w.flush()
	assert.Len(t, got, 2)
}

func TestFileWatcher_StartStop(t *testing.T) {
	f := filepath.Join(t.TempDir(), "providers.yaml")
	writeFile(t, f, "v1", time.Now().Add(-time.Hour))

	w, err := NewFileWatcher([]string{f}, WithPollInterval(10*time.Millisecond), WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	changed := make(chan FileEvent, 4)
	w.OnChange(func(evt FileEvent) { changed <- evt })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.ErrorContains(t, w.Start(ctx), "already running")

	writeFile(t, f, "v2 with new content", time.Now())
	select {
	case evt := <-changed:
		assert.Equal(t, f, evt.Path)
		assert.Equal(t, FileOpWrite, evt.Op)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())

	// 停止后可以重新启动
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestFileWatcher_ContextCancelStopsLoop(t *testing.T) {
	w, err := NewFileWatcher([]string{filepath.Join(t.TempDir(), "x.yaml")}, WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
}
