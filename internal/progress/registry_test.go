package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReplacesClosedJob(t *testing.T) {
	r := NewRegistry(0)
	first := r.Create("job")
	first.Publish(Event{Kind: KindDone})
	require.True(t, first.Closed())

	second := r.Create("job")
	assert.NotSame(t, first, second)
	assert.False(t, second.Closed())

	got, ok := r.Get("job")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistryCreateRevivesReleasedJob(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// A watcher registers the id and leaves before the export begins.
	watched := r.Create("job")
	r.MarkFinished("job")

	b := r.Create("job")
	require.Same(t, watched, b)
	b.Publish(Event{Kind: KindProgress, Frame: 1, Total: 10})

	now = now.Add(2 * time.Minute)
	got, ok := r.Get("job")
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.False(t, b.Closed())
	assert.Equal(t, 1, r.Len())
}

func TestRegistryStartedJobIgnoresRelease(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	b := r.Start("job")
	_, events := r.Create("job").Subscribe(4)
	r.MarkFinished("job")

	now = now.Add(2 * time.Minute)
	_, ok := r.Get("job")
	require.True(t, ok)

	b.Publish(Event{Kind: KindDone})
	for range events {
	}
	r.MarkFinished("job")
	now = now.Add(30 * time.Second)
	_, ok = r.Get("job")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = r.Get("job")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}
