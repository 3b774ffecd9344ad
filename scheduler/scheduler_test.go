package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Do(ctx, func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order: got %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("tasks run: got %d, want 5", len(got))
	}
}

func TestLoop_AfterFuncAndStop(t *testing.T) {
	l := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var fired atomic.Int32
	done := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() {
		fired.Add(1)
		close(done)
	})
	stopped := l.AfterFunc(10*time.Millisecond, func() { fired.Add(10) })
	if !stopped.Stop() {
		t.Fatal("Stop on pending timer should report true")
	}
	if stopped.Stop() {
		t.Fatal("second Stop should report false")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	_ = l.Do(ctx, func() {})
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired: got %d, want 1", got)
	}
}

func TestLoop_DoAfterClose(t *testing.T) {
	l := NewLoop(nil)
	go l.Run(context.Background())
	l.Close()
	<-l.Done()
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Do after close: got %v, want ErrClosed", err)
	}
}

func TestLoop_PanicDoesNotKillLoop(t *testing.T) {
	l := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })
	ran := false
	if err := l.Do(ctx, func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Fatal("loop stopped after panic")
	}
}

func TestManual_Advance(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(300*time.Millisecond, func() { got = append(got, "b") })
	m.AfterFunc(100*time.Millisecond, func() {
		got = append(got, "a")
		m.AfterFunc(100*time.Millisecond, func() { got = append(got, "a2") })
	})

	m.Advance(150 * time.Millisecond)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("after 150ms: got %v", got)
	}
	m.Advance(200 * time.Millisecond)
	if len(got) != 3 || got[1] != "a2" || got[2] != "b" {
		t.Fatalf("after 350ms: got %v", got)
	}
	if m.Timers() != 0 {
		t.Fatalf("Timers: got %d, want 0", m.Timers())
	}
	if m.Now() != 350*time.Millisecond {
		t.Fatalf("Now: got %v", m.Now())
	}
}

func TestManual_StoppedTimerNeverFires(t *testing.T) {
	m := NewManual()
	fired := false
	tm := m.AfterFunc(time.Second, func() { fired = true })
	tm.Stop()
	m.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestManual_DoDrainsQueue(t *testing.T) {
	m := NewManual()
	n := 0
	_ = m.Do(context.Background(), func() {
		m.Post(func() { n++ })
	})
	if n != 1 {
		t.Fatalf("posted task: got %d runs, want 1", n)
	}
	if m.Queued() != 0 {
		t.Fatalf("Queued: got %d, want 0", m.Queued())
	}
}
