package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoop_PostRunsInOrder(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	if err := l.Do(context.Background(), func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLoop_RequestFrameCoalesces(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	done := make(chan []int, 1)
	var order []int
	_ = l.Do(context.Background(), func() {
		for i := 0; i < 3; i++ {
			i := i
			l.RequestFrame(func() {
				order = append(order, i)
				if len(order) == 3 {
					done <- order
				}
			})
		}
	})

	select {
	case got := <-done:
		if got[0] != 0 || got[1] != 1 || got[2] != 2 {
			t.Errorf("frame order = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("frame callbacks did not run")
	}
}

func TestLoop_AfterFuncCancel(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	fired := make(chan struct{}, 1)
	cancel := l.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
	cancel()
	cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestLoop_StopRejectsWork(t *testing.T) {
	l := NewLoop("test")
	l.Stop()
	l.Stop()

	if err := l.Submit(func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Submit after Stop = %v, want ErrLoopStopped", err)
	}
	if err := l.Do(context.Background(), func() {}); !errors.Is(err, ErrLoopStopped) {
		t.Errorf("Do after Stop = %v, want ErrLoopStopped", err)
	}
}

func TestLoop_PanicIsolated(t *testing.T) {
	l := NewLoop("test")
	defer l.Stop()

	err := l.Do(context.Background(), func() { panic("boom") })
	if !errors.Is(err, ErrTaskPanicked) {
		t.Fatalf("Do = %v, want ErrTaskPanicked", err)
	}
	ran := false
	if err := l.Do(context.Background(), func() { ran = true }); err != nil || !ran {
		t.Errorf("loop did not survive a panicking task: err=%v ran=%v", err, ran)
	}
}

func TestManual_AdvanceFiresInTimeOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(30*time.Millisecond, func() { got = append(got, "c") })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, "a") })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, "b") })
	m.Post(func() { got = append(got, "posted") })

	m.Advance(20 * time.Millisecond)
	if want := []string{"posted", "a", "b"}; !equal(got, want) {
		t.Fatalf("after 20ms got %v, want %v", got, want)
	}
	m.Advance(10 * time.Millisecond)
	if len(got) != 4 || got[3] != "c" {
		t.Errorf("after 30ms got %v", got)
	}
}

func TestManual_NowFollowsTimers(t *testing.T) {
	m := NewManual()
	start := m.Now()
	var at time.Duration
	m.AfterFunc(5*time.Millisecond, func() { at = m.Now().Sub(start) })
	m.Advance(time.Second)
	if at != 5*time.Millisecond {
		t.Errorf("timer saw Now at +%v, want +5ms", at)
	}
	if got := m.Now().Sub(start); got != time.Second {
		t.Errorf("clock = +%v, want +1s", got)
	}
}

func TestManual_CancelAndPending(t *testing.T) {
	m := NewManual()
	cancel := m.RequestFrame(func() { t.Error("cancelled frame ran") })
	m.RequestFrame(func() {})
	if m.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", m.Pending())
	}
	cancel()
	m.Frame()
	if m.Pending() != 0 {
		t.Errorf("Pending after frame = %d, want 0", m.Pending())
	}
}

func TestManual_TimerSchedulingTimer(t *testing.T) {
	m := NewManual()
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			m.AfterFunc(10*time.Millisecond, tick)
		}
	}
	m.AfterFunc(10*time.Millisecond, tick)
	m.Advance(100 * time.Millisecond)
	if count != 3 {
		t.Errorf("chained timer fired %d times, want 3", count)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
