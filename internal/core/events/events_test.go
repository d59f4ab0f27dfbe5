package events

import (
	"testing"
	"time"
)

func TestDispatcher_RegistrationOrder(t *testing.T) {
	d := NewDispatcher()
	var got []int

	d.On(KindJobUpdate, func(any) { got = append(got, 1) })
	d.On(KindJobUpdate, func(any) { got = append(got, 2) })
	d.On(KindJobUpdate, func(any) { got = append(got, 3) })

	d.Emit(KindJobUpdate, JobUpdate{JobID: "job-1"})

	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Errorf("delivery %d was listener %d, want %d", i, v, i+1)
		}
	}
}

func TestDispatcher_ListenerIsolation(t *testing.T) {
	d := NewDispatcher()
	delivered := false

	d.On(KindNotification, func(any) { panic("listener blew up") })
	d.On(KindNotification, func(any) { delivered = true })

	d.Emit(KindNotification, nil)

	if !delivered {
		t.Error("panicking listener prevented delivery to the next listener")
	}
}

func TestDispatcher_Off(t *testing.T) {
	d := NewDispatcher()
	calls := 0

	h := d.On(KindError, func(any) { calls++ })
	d.Emit(KindError, ErrorEvent{Message: "x", Timestamp: time.Now()})
	d.Off(KindError, h)
	d.Emit(KindError, ErrorEvent{Message: "y", Timestamp: time.Now()})

	if calls != 1 {
		t.Errorf("expected 1 call after Off, got %d", calls)
	}

	// Removing an unknown handle is a no-op.
	d.Off(KindError, Handle(999))
}

func TestDispatcher_RemoveAll(t *testing.T) {
	d := NewDispatcher()
	jobCalls, errCalls := 0, 0

	d.On(KindJobUpdate, func(any) { jobCalls++ })
	d.On(KindJobUpdate, func(any) { jobCalls++ })
	d.On(KindError, func(any) { errCalls++ })

	d.RemoveAll(KindJobUpdate)
	d.Emit(KindJobUpdate, JobUpdate{})
	d.Emit(KindError, ErrorEvent{})

	if jobCalls != 0 {
		t.Errorf("expected no job_update calls after RemoveAll, got %d", jobCalls)
	}
	if errCalls != 1 {
		t.Errorf("expected error listener unaffected, got %d calls", errCalls)
	}

	d.Reset()
	d.Emit(KindError, ErrorEvent{})
	if errCalls != 1 {
		t.Errorf("expected no calls after Reset, got %d", errCalls)
	}
}

func TestDispatcher_ListenerAddedDuringEmit(t *testing.T) {
	d := NewDispatcher()
	lateCalls := 0

	d.On(KindSystemMessage, func(any) {
		d.On(KindSystemMessage, func(any) { lateCalls++ })
	})

	d.Emit(KindSystemMessage, SystemMessage{})
	if lateCalls != 0 {
		t.Error("listener registered during emit ran in the same emit")
	}
	d.Emit(KindSystemMessage, SystemMessage{})
	if lateCalls != 1 {
		t.Errorf("late listener expected on next emit, got %d calls", lateCalls)
	}
}
