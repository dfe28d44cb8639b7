package viewer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkvm/codec"
	"webkvm/wire"
)

func TestOutOfOrderFrameIsDroppedAsStale(t *testing.T) {
	p := &recordingPainter{}
	r := NewRenderScheduler(3, time.Millisecond, &Decoder{}, p, testLogger())
	d := NewDispatcher(r, testLogger())

	for _, seq := range []uint64{1, 3, 2} {
		b, err := directFrame(seq, 4, 4, byte(seq)).Marshal()
		require.NoError(t, err)
		d.Dispatch(b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return len(p.Seqs()) == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []uint64{1, 3}, p.Seqs())

	st := r.Stats()
	assert.EqualValues(t, 3, st.Received)
	assert.EqualValues(t, 1, st.Stale)
	assert.EqualValues(t, 2, st.Rendered)
	assert.Zero(t, st.Dropped)
}

func TestSubmitDropsArrivalsWhenFull(t *testing.T) {
	r := NewRenderScheduler(2, time.Millisecond, &Decoder{}, &recordingPainter{}, testLogger())
	var queued int
	for seq := uint64(1); seq <= 5; seq++ {
		if r.Submit(directFrame(seq, 2, 2, 0)) {
			queued++
		}
	}
	st := r.Stats()
	assert.Equal(t, 2, queued)
	assert.Equal(t, 2, st.QueueLen)
	assert.EqualValues(t, 3, st.Dropped)

	// dropped arrivals do not advance the highest accepted sequence
	require.Equal(t, uint64(1), r.next().Seq)
	assert.True(t, r.Submit(directFrame(3, 2, 2, 0)))
}

func TestQueueNeverExceedsDepth(t *testing.T) {
	p := &recordingPainter{delay: 5 * time.Millisecond}
	r := NewRenderScheduler(2, time.Millisecond, &Decoder{}, p, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for seq := uint64(1); seq <= 50; seq++ {
		r.Submit(directFrame(seq, 2, 2, byte(seq)))
		assert.LessOrEqual(t, r.Stats().QueueLen, 2)
	}
	require.Eventually(t, func() bool {
		st := r.Stats()
		return st.Received == st.Dropped+st.Stale+st.Rendered+st.DecodeErrors+st.PaintErrors
	}, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, r.Stats().Dropped)
	seqs := p.Seqs()
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestSetDepthTrimsQueue(t *testing.T) {
	r := NewRenderScheduler(3, time.Millisecond, &Decoder{}, &recordingPainter{}, testLogger())
	for seq := uint64(1); seq <= 3; seq++ {
		require.True(t, r.Submit(directFrame(seq, 2, 2, 0)))
	}
	r.SetDepth(1)
	st := r.Stats()
	assert.Equal(t, 1, st.QueueLen)
	assert.Equal(t, 1, st.Depth)
	assert.EqualValues(t, 2, st.Dropped)
	assert.Equal(t, uint64(1), r.next().Seq)
}

func TestDecodeFailureRequestsKeyframe(t *testing.T) {
	p := &recordingPainter{}
	r := NewRenderScheduler(3, time.Millisecond, &Decoder{}, p, testLogger())
	var calls atomic.Int32
	var lastErr atomic.Value
	r.OnDecodeError(func(err error) {
		calls.Add(1)
		lastErr.Store(err)
	})

	delta := &wire.Frame{
		Kind:     wire.KindLegacy,
		Encoding: wire.EncodingChangeList,
		Width:    2,
		Height:   2,
		Seq:      7,
		Payload:  codec.EncodeChangeList(codec.DeltaRecord{}),
	}
	require.True(t, r.Submit(delta))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	err := lastErr.Load().(error)
	assert.ErrorIs(t, err, ErrMissingBase)
	assert.True(t, wantsKeyframe(err))
	assert.EqualValues(t, 1, r.Stats().DecodeErrors)
	assert.Empty(t, p.Seqs())

	// a keyframe repairs the stream
	require.True(t, r.Submit(directFrame(8, 2, 2, 9)))
	require.Eventually(t, func() bool { return len(p.Seqs()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPaintErrorsAreCounted(t *testing.T) {
	p := &recordingPainter{err: errors.New("surface lost")}
	r := NewRenderScheduler(1, time.Millisecond, &Decoder{}, p, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.True(t, r.Submit(directFrame(1, 2, 2, 0)))
	require.Eventually(t, func() bool { return r.Stats().PaintErrors == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, r.Stats().Rendered)
}

func TestDispatcherCountsMalformedMessages(t *testing.T) {
	r := NewRenderScheduler(1, time.Millisecond, &Decoder{}, &recordingPainter{}, testLogger())
	d := NewDispatcher(r, testLogger())

	d.Dispatch([]byte{0xAA, 0xBB})
	d.Dispatch([]byte("not a frame at all, but long enough"))
	assert.EqualValues(t, 2, d.Errors())
	assert.Zero(t, r.Stats().Received)

	b, err := directFrame(1, 2, 2, 0).Marshal()
	require.NoError(t, err)
	d.Dispatch(b)
	assert.EqualValues(t, 2, d.Errors())
	assert.EqualValues(t, 1, r.Stats().Received)
}

func TestProcessingExcludesPaintTickWait(t *testing.T) {
	p := &recordingPainter{delay: 5 * time.Millisecond}
	r := NewRenderScheduler(3, 100*time.Millisecond, &Decoder{}, p, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.True(t, r.Submit(directFrame(1, 2, 2, 0)))
	require.True(t, r.Submit(directFrame(2, 2, 2, 0)))
	require.Eventually(t, func() bool { return r.Stats().Rendered == 2 }, 2*time.Second, 5*time.Millisecond)

	avg := r.Stats().AvgProcessing()
	assert.GreaterOrEqual(t, avg, p.delay)
	assert.Less(t, avg, 50*time.Millisecond)
}
