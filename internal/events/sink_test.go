package events

import (
	"context"
	"testing"
	"time"

	"github.com/taskrun/plannerd/pkg/models"
)

func TestChanSink_Emit(t *testing.T) {
	ch := make(chan models.RunEvent, 10)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), models.RunEvent{Type: models.RunEventTaskStarted, RunID: "r1"})

	select {
	case got := <-ch:
		if got.RunID != "r1" {
			t.Errorf("RunID = %q, want %q", got.RunID, "r1")
		}
	default:
		t.Error("expected event in channel")
	}
}

func TestChanSink_FullChannelDoesNotBlock(t *testing.T) {
	ch := make(chan models.RunEvent, 1)
	sink := NewChanSink(ch)

	sink.Emit(context.Background(), models.RunEvent{RunID: "first"})

	done := make(chan struct{})
	go func() {
		sink.Emit(context.Background(), models.RunEvent{RunID: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full channel instead of dropping")
	}
}

func TestMultiSink_FansOutAndFiltersNil(t *testing.T) {
	var a, b []models.RunEvent
	sinkA := NewCallbackSink(func(_ context.Context, e models.RunEvent) { a = append(a, e) })
	sinkB := NewCallbackSink(func(_ context.Context, e models.RunEvent) { b = append(b, e) })

	multi := NewMultiSink(sinkA, nil, sinkB)
	multi.Emit(context.Background(), models.RunEvent{RunID: "x"})

	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected both real sinks to receive the event, got len(a)=%d len(b)=%d", len(a), len(b))
	}
}

func TestNopSink_DoesNotPanic(t *testing.T) {
	NopSink{}.Emit(context.Background(), models.RunEvent{})
}

func TestBackpressureSink_HighPriorityNeverDropped(t *testing.T) {
	sink, out := NewBackpressureSink(BackpressureConfig{HighPriBuffer: 1, LowPriBuffer: 1})
	defer sink.Close()

	sink.Emit(context.Background(), models.RunEvent{Type: models.RunEventTaskStarted, RunID: "a"})
	sink.Emit(context.Background(), models.RunEvent{Type: models.RunEventTaskCompleted, RunID: "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-out:
			seen[e.RunID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for high-priority events")
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both high-priority events delivered, got %v", seen)
	}
	if sink.DroppedCount() != 0 {
		t.Errorf("DroppedCount() = %d, want 0", sink.DroppedCount())
	}
}

func TestBackpressureSink_LowPriorityDropsWhenFull(t *testing.T) {
	sink, out := NewBackpressureSink(BackpressureConfig{HighPriBuffer: 1, LowPriBuffer: 1})
	defer sink.Close()

	for i := 0; i < 5; i++ {
		sink.Emit(context.Background(), models.RunEvent{Type: models.RunEventObservationFolded, RunID: "low"})
	}

	// Drain whatever made it through; the point is DroppedCount ends up > 0.
	time.Sleep(10 * time.Millisecond)
	for {
		select {
		case <-out:
		default:
			goto done
		}
	}
done:
	if sink.DroppedCount() == 0 {
		t.Error("expected some low-priority events to be dropped under a 1-slot buffer")
	}
}

func TestBackpressureSink_CloseIsIdempotent(t *testing.T) {
	sink, _ := NewBackpressureSink(DefaultBackpressureConfig())
	sink.Close()
	sink.Close()
}
