package dialogue

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closeTrackingStream 记录 Close 是否被调用
type closeTrackingStream struct {
	scriptedStream
	closed bool
}

func (s *closeTrackingStream) Close() { s.closed = true }

func TestDeliverPreservesChunkOrder(t *testing.T) {
	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("片段-%02d", i)
	}
	gen := &closeTrackingStream{scriptedStream: scriptedStream{chunks: chunks, blockAfter: -1}}

	finish := func(content string, canceled bool, genErr error) (*TurnOutcome, error) {
		if genErr != nil {
			return nil, genErr
		}
		return &TurnOutcome{Content: content, Canceled: canceled}, nil
	}

	deltas, outcome, streamErr := collectStream(t, deliver(context.Background(), gen, 4, finish))

	require.NoError(t, streamErr)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Canceled)
	assert.Equal(t, chunks, deltas)

	var want string
	for _, c := range chunks {
		want += c
	}
	assert.Equal(t, want, outcome.Content)
	assert.True(t, gen.closed)
}

func TestDeliverPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &closeTrackingStream{scriptedStream: scriptedStream{
		ctx:        ctx,
		chunks:     []string{"先到", "后续"},
		blockAfter: 1,
	}}

	finish := func(content string, canceled bool, genErr error) (*TurnOutcome, error) {
		if genErr != nil {
			return nil, genErr
		}
		return &TurnOutcome{Content: content, Canceled: canceled}, nil
	}

	stream := deliver(ctx, gen, 4, finish)

	ev := <-stream.Events
	require.Equal(t, "先到", ev.Delta)
	cancel()

	deltas, outcome, streamErr := collectStream(t, stream)

	require.NoError(t, streamErr)
	require.NotNil(t, outcome)
	assert.Empty(t, deltas)
	assert.True(t, outcome.Canceled)
	assert.Equal(t, "先到", outcome.Content)
	assert.True(t, gen.closed)
}

// 读端断开后取消：缓冲写满也不能困住泵协程，事件通道必须关闭
func TestDeliverCanceledWithoutReaderTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &closeTrackingStream{scriptedStream: scriptedStream{
		ctx:        ctx,
		chunks:     []string{"一", "二", "三"},
		blockAfter: -1,
	}}

	var finishCalls int32
	finish := func(content string, canceled bool, genErr error) (*TurnOutcome, error) {
		atomic.AddInt32(&finishCalls, 1)
		return &TurnOutcome{Content: content, Canceled: canceled}, nil
	}

	stream := deliver(ctx, gen, 1, finish)
	cancel()

	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case _, ok := <-stream.Events:
			open = ok
		case <-timeout:
			t.Fatal("stream did not terminate after cancel without reader")
		}
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&finishCalls))
	assert.True(t, gen.closed)
}
