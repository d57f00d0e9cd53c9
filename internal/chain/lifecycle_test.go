package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/castarr/internal/codec"
	"github.com/jmylchreest/castarr/internal/es"
)

func directSpec() Spec {
	return NewBuilder().Publish(PublishTarget{Port: 8080, Path: "/dlna/1/1/stream", Mux: MuxMP4Stream, MIME: MIMEVideoMP4}).Build()
}

func TestLifecycle_StartAttachesAll(t *testing.T) {
	engine := newFakeEngine()
	l := NewLifecycle(engine, nil)

	accepted, err := l.Start(context.Background(), directSpec(), []es.Stream{
		stream(1, codec.CategoryAudio, codec.MP4A),
		stream(2, codec.CategoryVideo, codec.H264),
	})
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.True(t, l.Active())
	assert.Equal(t, directSpec().String(), l.Spec())
	assert.Equal(t, []string{directSpec().String()}, engine.specs)

	sub1, err := l.Resolve(1)
	require.NoError(t, err)
	sub2, err := l.Resolve(2)
	require.NoError(t, err)
	assert.NotEqual(t, sub1, sub2)
	assert.Equal(t, accepted[0].SubID, sub1)
}

func TestLifecycle_AttachFailureDropsStream(t *testing.T) {
	engine := newFakeEngine()
	engine.reject[codec.VP9] = true
	l := NewLifecycle(engine, nil)

	accepted, err := l.Start(context.Background(), directSpec(), []es.Stream{
		stream(1, codec.CategoryVideo, codec.VP9),
		stream(2, codec.CategoryAudio, codec.MP4A),
	})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, es.ID(2), accepted[0].ID)
	assert.Equal(t, 1, engine.released[codec.VP9], "rejected format released exactly once")
	assert.Zero(t, engine.released[codec.MP4A])

	_, err = l.Resolve(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLifecycle_NoStreamsAccepted(t *testing.T) {
	engine := newFakeEngine()
	engine.reject[codec.VP9] = true
	l := NewLifecycle(engine, nil)

	accepted, err := l.Start(context.Background(), directSpec(), []es.Stream{stream(1, codec.CategoryVideo, codec.VP9)})
	assert.ErrorIs(t, err, ErrNoStreamsAccepted)
	assert.Nil(t, accepted)
	assert.False(t, l.Active())
	assert.Len(t, engine.torn, 1)
}

func TestLifecycle_BuildFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.buildErr = errors.New("no such module")
	l := NewLifecycle(engine, nil)

	_, err := l.Start(context.Background(), directSpec(), []es.Stream{stream(1, codec.CategoryAudio, codec.MP4A)})
	assert.ErrorIs(t, err, ErrBuildFailed)
	assert.False(t, l.Active())
}

func TestLifecycle_StartWhileActive(t *testing.T) {
	l := NewLifecycle(newFakeEngine(), nil)
	streams := []es.Stream{stream(1, codec.CategoryAudio, codec.MP4A)}

	_, err := l.Start(context.Background(), directSpec(), streams)
	require.NoError(t, err)
	_, err = l.Start(context.Background(), directSpec(), streams)
	assert.ErrorIs(t, err, ErrChainActive)
}

func TestLifecycle_StopDetachesAndIsIdempotent(t *testing.T) {
	engine := newFakeEngine()
	l := NewLifecycle(engine, nil)

	_, err := l.Start(context.Background(), directSpec(), []es.Stream{
		stream(1, codec.CategoryAudio, codec.MP4A),
		stream(2, codec.CategoryVideo, codec.H264),
	})
	require.NoError(t, err)

	l.Stop()
	assert.False(t, l.Active())
	assert.Empty(t, l.Attached())
	assert.Empty(t, l.Spec())
	assert.Len(t, engine.torn, 1)

	detaches := 0
	for _, c := range engine.calls {
		if c.op == "detach" {
			detaches++
		}
	}
	assert.Equal(t, 2, detaches)

	_, err = l.Resolve(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.Resolve(2)
	assert.ErrorIs(t, err, ErrNotFound)

	l.Stop()
	assert.Len(t, engine.torn, 1, "second stop is a no-op")
}

func TestLifecycle_DetachDeliverFlush(t *testing.T) {
	engine := newFakeEngine()
	l := NewLifecycle(engine, nil)

	_, err := l.Start(context.Background(), directSpec(), []es.Stream{
		stream(1, codec.CategoryAudio, codec.MP4A),
		stream(2, codec.CategoryVideo, codec.H264),
	})
	require.NoError(t, err)

	require.NoError(t, l.Deliver(1, es.Frame{Units: [][]byte{{0x01}}}))
	sub1, _ := l.Resolve(1)
	assert.Equal(t, 1, engine.delivered[sub1])

	require.NoError(t, l.Flush(2))
	assert.ErrorIs(t, l.Flush(3), ErrNotFound)

	assert.True(t, l.Detach(1))
	assert.False(t, l.Detach(1))
	assert.ErrorIs(t, l.Deliver(1, es.Frame{}), ErrNotFound)
	assert.Len(t, l.Attached(), 1)
	assert.True(t, l.Active(), "detaching one stream keeps the chain")
}
