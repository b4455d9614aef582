package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFilters(t *testing.T) {
	scripts := ExtensionFilter(".js", ".CSS")
	assert.True(t, scripts("src/a.js"))
	assert.True(t, scripts("src/a.css"))
	assert.False(t, scripts("src/a.go"))

	assert.True(t, NoEditorFilter("src/a.js"))
	assert.False(t, NoEditorFilter("src/a.js~"))
	assert.False(t, NoEditorFilter("src/.a.js.swp"))
	assert.False(t, NoEditorFilter("src/.#a.js"))
}

func TestIgnored(t *testing.T) {
	root := t.TempDir()
	fw, err := NewFileWatcher(10*time.Millisecond, nil, filepath.Join(root, "dist"))
	require.NoError(t, err)
	defer fw.Stop()

	assert.True(t, fw.ignored(filepath.Join(root, "dist")))
	assert.True(t, fw.ignored(filepath.Join(root, "dist", "main.js")))
	assert.False(t, fw.ignored(filepath.Join(root, "distribution")))
	assert.True(t, fw.ignored(filepath.Join(root, "node_modules")))
	assert.True(t, fw.ignored(filepath.Join(root, ".git")))
	assert.False(t, fw.ignored(filepath.Join(root, "src")))
}

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.start(ctx)

	d.events <- ChangeEvent{Type: EventTypeCreated, Path: "b.js"}
	d.events <- ChangeEvent{Type: EventTypeModified, Path: "a.js"}
	d.events <- ChangeEvent{Type: EventTypeModified, Path: "b.js"}

	select {
	case batch := <-d.output:
		require.Len(t, batch, 2)
		assert.Equal(t, "a.js", batch[0].Path)
		assert.Equal(t, "b.js", batch[1].Path)
		assert.Equal(t, EventTypeModified, batch[1].Type, "latest event per path wins")
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestFileWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dist"), 0o755))

	fw, err := NewFileWatcher(30*time.Millisecond, nil, filepath.Join(root, "dist"))
	require.NoError(t, err)
	defer fw.Stop()
	fw.AddFilter(ExtensionFilter(".js"))

	var mu sync.Mutex
	var seen []string
	got := make(chan struct{}, 8)
	fw.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mu.Lock()
		for _, e := range events {
			seen = append(seen, filepath.Base(e.Path))
		}
		mu.Unlock()
		got <- struct{}{}
		return nil
	})
	require.NoError(t, fw.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "out.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "index.js"), []byte("x"), 0o644))

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "index.js")
	assert.NotContains(t, seen, "out.js")
	assert.NotContains(t, seen, "notes.txt")
}
