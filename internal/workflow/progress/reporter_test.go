package progress

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctbritt/dark-sun-assistant/internal/workflow"
)

func progressEvent(i int) workflow.ProgressEvent {
	return workflow.ProgressEvent{Message: fmt.Sprintf("step %d", i)}
}

func drain(t *testing.T, r *Reporter) []workflow.Event {
	t.Helper()
	var out []workflow.Event
	for {
		ev, err := r.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestReporter_DeliversInOrder(t *testing.T) {
	r := NewReporter(4)
	r.Emit(progressEvent(1))
	r.Emit(progressEvent(2))
	r.Emit(workflow.FinalEvent{ConversationID: "conv_1"})
	r.Close()

	events := drain(t, r)

	require.Len(t, events, 3)
	assert.Equal(t, progressEvent(1), events[0])
	assert.Equal(t, progressEvent(2), events[1])
	assert.Equal(t, workflow.FinalEvent{ConversationID: "conv_1"}, events[2])
	assert.Zero(t, r.Dropped())
}

func TestReporter_DropsOldestProgressNeverTerminal(t *testing.T) {
	r := NewReporter(3)
	for i := 1; i <= 10; i++ {
		r.Emit(progressEvent(i))
	}
	r.Emit(workflow.ErrorEvent{Message: "model unavailable"})
	r.Emit(progressEvent(11))
	r.Close()

	events := drain(t, r)

	assert.Equal(t, []workflow.Event{
		progressEvent(9),
		progressEvent(10),
		workflow.ErrorEvent{Message: "model unavailable"},
		progressEvent(11),
	}, events)
	assert.Equal(t, 8, r.Dropped())
}

func TestReporter_EmitNeverBlocks(t *testing.T) {
	r := NewReporter(2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			r.Emit(progressEvent(i))
		}
		r.Emit(workflow.FinalEvent{ConversationID: "conv_x"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked without a consumer")
	}

	assert.Equal(t, 3, r.Len())
	r.Close()
	events := drain(t, r)
	assert.IsType(t, workflow.FinalEvent{}, events[len(events)-1])
}

func TestReporter_NextWaitsForEmit(t *testing.T) {
	r := NewReporter(4)
	got := make(chan workflow.Event, 1)
	go func() {
		ev, err := r.Next(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.Emit(progressEvent(1))

	select {
	case ev := <-got:
		assert.Equal(t, progressEvent(1), ev)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestReporter_NextHonoursContext(t *testing.T) {
	r := NewReporter(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Next(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReporter_EmitAfterCloseIgnored(t *testing.T) {
	r := NewReporter(4)
	r.Close()
	r.Emit(workflow.FinalEvent{})

	_, err := r.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
