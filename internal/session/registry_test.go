package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, map[string]*fakeSink) {
	sinks := make(map[string]*fakeSink)
	r := NewRegistry(func(id string) *Controller {
		sink := &fakeSink{}
		sinks[id] = sink
		return NewController(id, NewPolicy(75), &fakeDetector{}, sink, nil, nil)
	})
	return r, sinks
}

func TestRegistryOpenGeneratesID(t *testing.T) {
	r, _ := newTestRegistry()

	a := r.Open("")
	b := r.Open("")

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryOpenReturnsExisting(t *testing.T) {
	r, _ := newTestRegistry()

	a := r.Open("cam")
	b := r.Open("cam")

	assert.Same(t, a, b)

	got, err := r.Get("cam")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistrySessionsAreIndependent(t *testing.T) {
	r, sinks := newTestRegistry()
	ctx := context.Background()

	a := r.Open("a")
	b := r.Open("b")
	a.Start(ctx)
	b.Start(ctx)

	a.Ingest(ctx, frameWithFaces(1))

	assert.True(t, a.Status().Recording)
	assert.False(t, b.Status().Recording)
	assert.Equal(t, 1, sinks["a"].starts)
	assert.Zero(t, sinks["b"].starts)
}

func TestRegistryCloseStopsRecording(t *testing.T) {
	r, sinks := newTestRegistry()
	ctx := context.Background()

	c := r.Open("a")
	c.Start(ctx)
	c.Ingest(ctx, frameWithFaces(1))

	require.NoError(t, r.Close(ctx, "a"))
	assert.Equal(t, 1, sinks["a"].stops)
	assert.False(t, c.Status().Monitoring)
	assert.Zero(t, r.Len())

	assert.ErrorIs(t, r.Close(ctx, "a"), ErrSessionNotFound)
}

func TestRegistryCloseAll(t *testing.T) {
	r, sinks := newTestRegistry()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		c := r.Open(id)
		c.Start(ctx)
		c.Ingest(ctx, frameWithFaces(1))
	}

	r.CloseAll(ctx)

	assert.Zero(t, r.Len())
	for id, sink := range sinks {
		assert.Equal(t, 1, sink.stops, id)
		assert.Nil(t, sink.open, id)
	}
}

func TestRegistryDetachLeavesReplacement(t *testing.T) {
	r, sinks := newTestRegistry()
	ctx := context.Background()

	old := r.Open("cam")
	oldSink := sinks["cam"]
	old.Start(ctx)
	old.Ingest(ctx, frameWithFaces(1))

	// Старую сессию убрали через REST, под тем же ID открыта новая
	require.NoError(t, r.Close(ctx, "cam"))
	fresh := r.Open("cam")
	fresh.Start(ctx)

	require.NoError(t, r.Detach(ctx, old))

	got, err := r.Get("cam")
	require.NoError(t, err)
	assert.Same(t, fresh, got)
	assert.True(t, fresh.Status().Monitoring)
	assert.Equal(t, 1, oldSink.stops)
}

func TestRegistryDetachClosesRemovedController(t *testing.T) {
	r, sinks := newTestRegistry()
	ctx := context.Background()

	c := r.Open("cam")
	c.Start(ctx)
	require.NoError(t, r.Close(ctx, "cam"))

	// Закрытый контроллер не может начать новую запись
	_, err := c.Start(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	c.Ingest(ctx, frameWithFaces(1))

	require.NoError(t, r.Detach(ctx, c))
	assert.Nil(t, sinks["cam"].open)
	assert.Zero(t, sinks["cam"].starts)
}

func TestRegistryRecording(t *testing.T) {
	r, sinks := newTestRegistry()
	ctx := context.Background()

	idle := r.Open("idle")
	idle.Start(ctx)
	c := r.Open("cam")
	c.Start(ctx)
	c.Ingest(ctx, frameWithFaces(1))

	path := sinks["cam"].open.Path
	got, ok := r.Recording(path)
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = r.Recording("")
	assert.False(t, ok)

	c.Stop(ctx)
	_, ok = r.Recording(path)
	assert.False(t, ok)
	assert.Empty(t, c.RecordingPath())
}
